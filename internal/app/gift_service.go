// internal/app/gift_service.go
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gift_circle_bot/internal/domain/chat"
	"gift_circle_bot/internal/domain/cycle"
	"gift_circle_bot/internal/domain/person"
	"gift_circle_bot/internal/infra/encryption"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for gift-cycle commands
var (
	ErrVotingNotClosed  = fmt.Errorf("voting is not closed yet")
	ErrCelebrantBarred  = fmt.Errorf("the celebrant cannot take part in this action")
	ErrAlreadyClaimed   = fmt.Errorf("purchaser already claimed")
	ErrNotPurchaser     = fmt.Errorf("only the purchaser can do this")
	ErrInvalidTotal     = fmt.Errorf("receipt total must be positive")
	ErrNoParticipants   = fmt.Errorf("no participants found for split")
	ErrReceiptNotPosted = fmt.Errorf("receipt not posted yet")
	ErrNotParticipant   = fmt.Errorf("not in the participant list for this cycle")
	ErrNoSuggestions    = fmt.Errorf("no suggestions to vote on")
	ErrPollExists       = fmt.Errorf("a poll is already running for this cycle")
)

const maxPollAnswers = 10
const pollAnswerWidth = 100

// GiftService implements the command-triggered cycle transitions: poll, claim,
// receipt, paid and the purchaser payment overrides. These reach into the same
// persisted state machine as the daily sweep, not a separate path.
type GiftService struct {
	persons   person.Repository
	cycles    cycle.Repository
	chat      chat.Client
	encryptor *encryption.Encryptor
	logger    *logrus.Entry
	now       func() time.Time
}

func NewGiftService(
	pr person.Repository,
	cr cycle.Repository,
	client chat.Client,
	encryptor *encryption.Encryptor,
	logger *logrus.Entry,
) *GiftService {
	return &GiftService{
		persons:   pr,
		cycles:    cr,
		chat:      client,
		encryptor: encryptor,
		logger:    logger,
		now:       time.Now,
	}
}

// StartPoll posts the voting poll with one answer per suggestion, oldest
// first, capped at the platform's 10-answer limit. Single-fire: the answer
// map is attached under a poll_message_id IS NULL guard.
func (s *GiftService) StartPoll(ctx context.Context, threadID int64) error {
	c, err := s.cycles.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if c.PollMessageID.Valid {
		return ErrPollExists
	}

	suggestions, err := s.cycles.ListSuggestions(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to list suggestions: %w", err)
	}
	if len(suggestions) == 0 {
		return ErrNoSuggestions
	}
	if len(suggestions) > maxPollAnswers {
		suggestions = suggestions[:maxPollAnswers]
	}

	answers := make([]string, len(suggestions))
	mapping := make([]cycle.PollAnswer, len(suggestions))
	for i, sg := range suggestions {
		answers[i] = pollAnswerText(sg)
		mapping[i] = cycle.PollAnswer{Index: i, SuggestionID: sg.ID}
	}

	messageID, pollID, err := s.chat.SendPoll(ctx, threadID, "Which gift should we get?", answers)
	if err != nil {
		return fmt.Errorf("failed to post poll: %w", err)
	}

	attached, err := s.cycles.AttachPoll(ctx, c.ID, messageID, pollID, mapping)
	if err != nil {
		return err
	}
	if !attached {
		// Lost a concurrent /poll race after posting; the stray poll message
		// stays in the thread but carries no recorded answer map.
		s.logger.WithField("cycle_id", c.ID).Warn("Concurrent poll creation detected; discarding this poll")
		return ErrPollExists
	}
	s.logger.WithFields(logrus.Fields{"cycle_id": c.ID, "answers": len(answers)}).Info("Poll posted")
	return nil
}

// RecordPollResults persists the per-answer tallies from a poll update pushed
// by the platform. Keeping the latest tallies on the cycle row makes closing
// the vote a plain database transition that the sweep can retry after any
// partial failure, without ever re-reading the live poll.
func (s *GiftService) RecordPollResults(ctx context.Context, pollID string, counts []int) error {
	if pollID == "" {
		return nil
	}
	if err := s.cycles.SavePollResults(ctx, pollID, counts); err != nil {
		return fmt.Errorf("failed to save poll results: %w", err)
	}
	return nil
}

func pollAnswerText(s *cycle.Suggestion) string {
	text := s.URL
	if s.Title.Valid && strings.TrimSpace(s.Title.String) != "" {
		text = s.Title.String
	}
	if s.Price.Valid && s.Price.String != "" {
		text = fmt.Sprintf("%s (%s)", text, s.Price.String)
	}
	runes := []rune(text)
	if len(runes) > pollAnswerWidth {
		text = string(runes[:pollAnswerWidth-1]) + "…"
	}
	return text
}

// Claim makes the caller the purchaser. The guarded single-row update in the
// repository is the concurrency safeguard: of N simultaneous claimers exactly
// one succeeds, the rest get ErrAlreadyClaimed.
func (s *GiftService) Claim(ctx context.Context, threadID, callerID int64) error {
	c, err := s.cycles.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if !c.WinnerSuggestionID.Valid {
		return ErrVotingNotClosed
	}
	if callerID == c.CelebrantID {
		return ErrCelebrantBarred
	}

	won, err := s.cycles.ClaimPurchaser(ctx, c.ID, callerID)
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadyClaimed
	}
	s.logger.WithFields(logrus.Fields{"cycle_id": c.ID, "purchaser_id": callerID}).Info("Purchaser claimed")

	// The claim DM carries the winning link and the celebrant's decrypted
	// address. Delivery is best-effort and never rolls the claim back.
	if err := s.sendClaimDM(ctx, c, callerID); err != nil {
		s.logger.WithError(err).WithField("cycle_id", c.ID).Error("Failed to DM purchaser the shipping details")
	}
	return nil
}

func (s *GiftService) sendClaimDM(ctx context.Context, c *cycle.Cycle, purchaserID int64) error {
	winner, err := s.cycles.GetSuggestion(ctx, c.WinnerSuggestionID.Int32)
	if err != nil {
		return fmt.Errorf("failed to load winning suggestion: %w", err)
	}
	celebrant, err := s.persons.GetByID(ctx, c.CelebrantID)
	if err != nil {
		return fmt.Errorf("failed to load celebrant: %w", err)
	}
	addr, err := s.encryptor.Decrypt(encryption.Encrypted{
		Ciphertext: celebrant.AddressCipher,
		Nonce:      celebrant.AddressNonce,
		Version:    celebrant.AddressVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to decrypt celebrant address: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You claimed the gift!\nWinning link: %s\n\nShip to:\n%s\n", winner.URL, addr.Line1)
	if addr.Line2 != "" {
		fmt.Fprintf(&b, "%s\n", addr.Line2)
	}
	fmt.Fprintf(&b, "%s, %s %s\n%s", addr.City, addr.State, addr.PostalCode, addr.Country)
	return s.chat.SendDirect(ctx, purchaserID, b.String())
}

// PostReceipt records the purchase total, freezes the participant snapshot,
// creates one unpaid payment per participant and announces the split.
func (s *GiftService) PostReceipt(ctx context.Context, threadID, callerID, totalCents int64) error {
	c, err := s.cycles.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if !c.PurchaserID.Valid || c.PurchaserID.Int64 != callerID {
		return ErrNotPurchaser
	}
	if totalCents <= 0 {
		return ErrInvalidTotal
	}

	// Participant set is computed fresh here and frozen; later membership
	// changes cannot add or remove payers.
	participants, err := resolveParticipants(ctx, s.persons, s.chat, c.CelebrantID)
	if err != nil {
		return err
	}
	if len(participants) == 0 {
		return ErrNoParticipants
	}

	if err := s.cycles.RecordReceipt(ctx, c.ID, totalCents, participants); err != nil {
		return err
	}
	split := SplitCents(totalCents, len(participants))
	s.logger.WithFields(logrus.Fields{
		"cycle_id":     c.ID,
		"total_cents":  totalCents,
		"participants": len(participants),
		"split_cents":  split,
	}).Info("Receipt recorded, participant snapshot frozen")

	var payLines []string
	if purchaser, err := s.persons.GetByID(ctx, callerID); err == nil {
		if purchaser.Venmo.Valid && purchaser.Venmo.String != "" {
			payLines = append(payLines, "Venmo: "+purchaser.Venmo.String)
		}
		if purchaser.Zelle.Valid && purchaser.Zelle.String != "" {
			payLines = append(payLines, "Zelle: "+purchaser.Zelle.String)
		}
	}
	if len(payLines) == 0 {
		payLines = append(payLines, "No payment handle on file.")
	}

	announcement := fmt.Sprintf("Receipt saved. Split is %s per person.\n%s\nPlease pay and then run /paid.",
		FormatCents(split), strings.Join(payLines, "\n"))
	if _, err := s.chat.SendThreadMessage(ctx, threadID, announcement); err != nil {
		s.logger.WithError(err).WithField("cycle_id", c.ID).Error("Failed to announce receipt")
	}

	if err := s.renderPaidBoard(ctx, c.ID); err != nil {
		s.logger.WithError(err).WithField("cycle_id", c.ID).Error("Failed to render paid-status board")
	}
	return nil
}

// MarkSelfPaid lets a frozen participant mark themself paid.
func (s *GiftService) MarkSelfPaid(ctx context.Context, threadID, callerID int64) error {
	c, err := s.cycles.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if c.Participants == nil {
		return ErrReceiptNotPosted
	}
	if !containsID(c.Participants, callerID) {
		return ErrNotParticipant
	}

	payment := &cycle.Payment{
		CycleID: c.ID,
		PayerID: callerID,
		PaidAt:  nullTime(s.now()),
	}
	if err := s.cycles.UpsertPayment(ctx, payment); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"cycle_id": c.ID, "payer_id": callerID}).Info("Participant marked self paid")

	if err := s.renderPaidBoard(ctx, c.ID); err != nil {
		s.logger.WithError(err).WithField("cycle_id", c.ID).Error("Failed to render paid-status board")
	}
	return nil
}

// OverridePayment is the purchaser-only mark-paid / mark-unpaid override for
// another participant, with an optional audit note.
func (s *GiftService) OverridePayment(ctx context.Context, threadID, callerID, targetID int64, paid bool, note string) error {
	c, err := s.cycles.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if !c.PurchaserID.Valid || c.PurchaserID.Int64 != callerID {
		return ErrNotPurchaser
	}
	if c.Participants == nil {
		return ErrReceiptNotPosted
	}

	payment := &cycle.Payment{
		CycleID:             c.ID,
		PayerID:             targetID,
		OverrideByPurchaser: true,
		Note:                nullString(note),
	}
	if paid {
		payment.PaidAt = nullTime(s.now())
	}
	if err := s.cycles.UpsertPayment(ctx, payment); err != nil {
		return err
	}

	verdict := "unpaid"
	if paid {
		verdict = "paid"
	}
	s.logger.WithFields(logrus.Fields{
		"cycle_id": c.ID, "target_id": targetID, "verdict": verdict,
	}).Info("Purchaser override applied")

	if err := s.renderPaidBoard(ctx, c.ID); err != nil {
		s.logger.WithError(err).WithField("cycle_id", c.ID).Error("Failed to render paid-status board")
	}

	audit := fmt.Sprintf("Audit: %s marked %s as %s",
		s.chat.DisplayName(ctx, callerID), s.chat.DisplayName(ctx, targetID), verdict)
	if note != "" {
		audit += fmt.Sprintf(" (%s)", note)
	}
	if _, err := s.chat.SendThreadMessage(ctx, threadID, audit); err != nil {
		s.logger.WithError(err).WithField("cycle_id", c.ID).Error("Failed to post audit line")
	}
	return nil
}

// CycleStatus is the /status summary for a thread.
type CycleStatus struct {
	WinnerSelected bool
	PurchaserID    int64 // 0 when unclaimed
	ReceiptCents   int64 // -1 when not posted
}

func (s *GiftService) Status(ctx context.Context, threadID int64) (*CycleStatus, error) {
	c, err := s.cycles.GetByThreadID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	st := &CycleStatus{WinnerSelected: c.WinnerSuggestionID.Valid, ReceiptCents: -1}
	if c.PurchaserID.Valid {
		st.PurchaserID = c.PurchaserID.Int64
	}
	if c.ReceiptTotalCents.Valid {
		st.ReceiptCents = c.ReceiptTotalCents.Int64
	}
	return st, nil
}

// renderPaidBoard recomputes the visible paid-status message from the frozen
// snapshot and the payment ledger, editing the existing board in place when
// one exists.
func (s *GiftService) renderPaidBoard(ctx context.Context, cycleID int32) error {
	c, err := s.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	if !c.ThreadID.Valid || c.Participants == nil {
		return nil
	}

	payments, err := s.cycles.ListPayments(ctx, c.ID)
	if err != nil {
		return err
	}
	paid := make(map[int64]bool, len(payments))
	for _, p := range payments {
		if p.PaidAt.Valid {
			paid[p.PayerID] = true
		}
	}

	var b strings.Builder
	b.WriteString("Paid Status\n")
	for _, id := range c.Participants {
		mark := "❌"
		if paid[id] {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, s.chat.DisplayName(ctx, id))
	}
	content := strings.TrimRight(b.String(), "\n")

	if c.PaidStatusMessageID.Valid {
		err := s.chat.EditThreadMessage(ctx, c.ThreadID.Int64, c.PaidStatusMessageID.Int64, content)
		if err == nil {
			return nil
		}
		s.logger.WithError(err).WithField("cycle_id", c.ID).Warn("Failed to edit paid-status message; posting a new one")
	}

	messageID, err := s.chat.SendThreadMessage(ctx, c.ThreadID.Int64, content)
	if err != nil {
		return fmt.Errorf("failed to post paid-status message: %w", err)
	}
	return s.cycles.SetPaidStatusMessage(ctx, c.ID, messageID)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
