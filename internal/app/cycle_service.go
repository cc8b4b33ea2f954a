// internal/app/cycle_service.go
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gift_circle_bot/internal/domain/chat"
	"gift_circle_bot/internal/domain/cycle"
	"gift_circle_bot/internal/domain/dates"
	"gift_circle_bot/internal/domain/person"

	"github.com/sirupsen/logrus"
)

const (
	// planningWindowDays is how far ahead of a birthday a cycle and its
	// thread may be created.
	planningWindowDays = 21
	// votingCloseOffsetDays is how many days before the birthday voting
	// closes and the winner is resolved.
	votingCloseOffsetDays = 5
	// reminderSpacingDays is the minimum gap between payment reminder rounds.
	reminderSpacingDays = 7
)

const welcomeMessage = "Welcome! Flow: suggest gifts with /suggest, start the vote with /poll, " +
	"winner picked 5 days before the birthday. After that: /claim, then the purchaser posts /receipt. " +
	"Participants use /paid."

// CycleService runs the daily sweep: for every tracked person and every open
// cycle it decides which lifecycle transition fires today and performs it
// exactly once. Each per-person and per-cycle loop body catches and logs its
// own failure so one broken cycle never blocks the rest of the sweep.
type CycleService struct {
	persons person.Repository
	cycles  cycle.Repository
	chat    chat.Client
	logger  *logrus.Entry

	venueID              int64
	loc                  *time.Location
	notificationsEnabled bool
	autoDeleteDays       int

	now func() time.Time

	// sweepMu serializes the sweep against re-entry. A concurrent trigger is
	// dropped, not queued.
	sweepMu sync.Mutex
}

func NewCycleService(
	pr person.Repository,
	cr cycle.Repository,
	client chat.Client,
	logger *logrus.Entry,
	venueID int64,
	loc *time.Location,
	notificationsEnabled bool,
	autoDeleteDays int,
) *CycleService {
	return &CycleService{
		persons:              pr,
		cycles:               cr,
		chat:                 client,
		logger:               logger,
		venueID:              venueID,
		loc:                  loc,
		notificationsEnabled: notificationsEnabled,
		autoDeleteDays:       autoDeleteDays,
		now:                  time.Now,
	}
}

// RunDailySweep performs one pass over all tracked celebrants and open
// cycles. A second concurrent invocation is a silent no-op.
func (s *CycleService) RunDailySweep(ctx context.Context) error {
	if !s.sweepMu.TryLock() {
		s.logger.Info("Sweep already running; dropping this trigger")
		return nil
	}
	defer s.sweepMu.Unlock()

	if err := s.chat.VenueReady(ctx); err != nil {
		// Unresolvable venue/channel aborts the whole tick; logged, not fatal.
		s.logger.WithError(err).Error("Venue or channel unresolvable; aborting sweep for this tick")
		return nil
	}

	today := dates.Midnight(s.now(), s.loc)
	s.logger.WithField("today", today.Format(dates.Layout)).Info("Daily sweep started")

	s.openUpcomingCycles(ctx, today)
	s.closeDueVotes(ctx, today)

	settling, err := s.cycles.ListAwaitingSettlement(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list cycles awaiting settlement")
	} else {
		s.sendPaymentReminders(ctx, today, settling)
		s.completeSettledCycles(ctx, today, settling)
	}

	s.deleteExpiredThreads(ctx, today)

	s.logger.Info("Daily sweep finished")
	return nil
}

// openUpcomingCycles creates a cycle and thread for every registered person
// whose birthday is inside the planning window. Creation is idempotent on the
// (venue, celebrant, birthday-date) natural key, so running the sweep twice
// on the same day, or concurrently with a registration-triggered sweep,
// cannot double-create.
func (s *CycleService) openUpcomingCycles(ctx context.Context, today time.Time) {
	persons, err := s.persons.ListAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list registered persons")
		return
	}

	for _, p := range persons {
		logCtx := s.logger.WithField("celebrant_id", p.ChatUserID)
		err := func() error {
			birthday := dates.UpcomingBirthday(p.Birthday, today.Year(), s.loc)
			if dates.DaysBetween(today, birthday, s.loc) < 0 {
				// Already past this year; a late-December sweep must still
				// see an early-January birthday.
				birthday = dates.UpcomingBirthday(p.Birthday, today.Year()+1, s.loc)
			}
			daysOut := dates.DaysBetween(today, birthday, s.loc)
			if daysOut < 0 || daysOut > planningWindowDays {
				return nil
			}

			c := &cycle.Cycle{
				VenueID:      s.venueID,
				CelebrantID:  p.ChatUserID,
				BirthdayDate: birthday,
			}
			created, err := s.cycles.CreateIfAbsent(ctx, c)
			if err != nil {
				return err
			}
			if c.ThreadID.Valid {
				return nil // thread already up; nothing to do
			}
			if created {
				logCtx.WithField("cycle_id", c.ID).Info("Cycle created")
			}

			threadName := threadNameFor(p, birthday, s.chat.DisplayName(ctx, p.ChatUserID))
			threadID, err := s.chat.CreateThread(ctx, threadName)
			if err != nil {
				return fmt.Errorf("failed to create thread: %w", err)
			}
			if err := s.cycles.AttachThread(ctx, c.ID, threadID); err != nil {
				return err
			}
			logCtx.WithFields(logrus.Fields{"cycle_id": c.ID, "thread_id": threadID}).Info("Thread created, cycle open")

			participants, err := resolveParticipants(ctx, s.persons, s.chat, p.ChatUserID)
			if err != nil {
				return err
			}
			if s.notificationsEnabled {
				for _, memberID := range participants {
					dm := fmt.Sprintf("New birthday thread created: %s", threadName)
					if err := s.chat.SendDirect(ctx, memberID, dm); err != nil {
						// One failed DM must not abort the others or the sweep.
						logCtx.WithError(err).WithField("member_id", memberID).Warn("Thread-creation DM failed")
					}
				}
			} else {
				logCtx.Info("Notifications disabled; skipping thread-creation DMs")
			}

			if _, err := s.chat.SendThreadMessage(ctx, threadID, welcomeMessage); err != nil {
				logCtx.WithError(err).Warn("Failed to post welcome message")
			}
			return nil
		}()
		if err != nil {
			logCtx.WithError(err).Error("Cycle creation pass failed for celebrant")
		}
	}
}

// closeDueVotes resolves the winner for every open cycle whose voting-close
// offset has been reached and announces the result either way. The winner is
// read from the tallies persisted off poll updates, never from the live poll,
// so a close that failed after a partial write is retried by the next sweep
// without touching the platform again. Stopping the live poll happens last
// and is best-effort; a poll that was already stopped on a previous attempt
// only costs a warning.
func (s *CycleService) closeDueVotes(ctx context.Context, today time.Time) {
	open, err := s.cycles.ListByStatus(ctx, cycle.StatusOpen)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list open cycles")
		return
	}

	for _, c := range open {
		logCtx := s.logger.WithField("cycle_id", c.ID)
		err := func() error {
			daysOut := dates.DaysBetween(today, dates.Midnight(c.BirthdayDate, s.loc), s.loc)
			if daysOut > votingCloseOffsetDays {
				return nil
			}
			if !c.ThreadID.Valid {
				return nil
			}

			suggestions, err := s.cycles.ListSuggestions(ctx, c.ID)
			if err != nil {
				return err
			}
			winner := resolveWinner(c, suggestions)

			if winner != nil {
				if err := s.cycles.CloseVoting(ctx, c.ID, winner.ID, true); err != nil {
					return err
				}
				title := "Gift"
				if winner.Title.Valid && winner.Title.String != "" {
					title = winner.Title.String
				}
				announcement := fmt.Sprintf("Voting closed! Winner: %s (%s)", title, winner.URL)
				if _, err := s.chat.SendThreadMessage(ctx, c.ThreadID.Int64, announcement); err != nil {
					logCtx.WithError(err).Warn("Failed to announce voting result")
				}
				logCtx.WithField("winner_suggestion_id", winner.ID).Info("Voting closed with winner")
			} else {
				if err := s.cycles.CloseVoting(ctx, c.ID, 0, false); err != nil {
					return err
				}
				if _, err := s.chat.SendThreadMessage(ctx, c.ThreadID.Int64, "Voting closed! No winner could be determined."); err != nil {
					logCtx.WithError(err).Warn("Failed to announce voting result")
				}
				logCtx.Info("Voting closed without winner")
			}
			if c.PollMessageID.Valid {
				if err := s.chat.ClosePoll(ctx, c.ThreadID.Int64, c.PollMessageID.Int64); err != nil {
					logCtx.WithError(err).Warn("Failed to stop poll after closing voting")
				}
			}
			return nil
		}()
		if err != nil {
			logCtx.WithError(err).Error("Voting-close pass failed for cycle")
		}
	}
}

// sendPaymentReminders DMs the unpaid subset of the frozen snapshot for every
// reminder-eligible cycle: no reminder yet, or the last round is at least a
// week old, or today is the birthday itself. The reminder timestamp is only
// recorded when at least one reminder was actually due to send.
func (s *CycleService) sendPaymentReminders(ctx context.Context, today time.Time, settling []*cycle.Cycle) {
	for _, c := range settling {
		logCtx := s.logger.WithField("cycle_id", c.ID)
		err := func() error {
			birthday := dates.Midnight(c.BirthdayDate, s.loc)
			eligible := !c.ReminderSentAt.Valid ||
				dates.DaysBetween(c.ReminderSentAt.Time, today, s.loc) >= reminderSpacingDays ||
				today.Equal(birthday)
			if !eligible {
				return nil
			}

			unpaid, err := s.unpaidParticipants(ctx, c)
			if err != nil {
				return err
			}
			if len(unpaid) == 0 {
				return nil
			}

			split := SplitCents(c.ReceiptTotalCents.Int64, len(c.Participants))
			celebrant := s.chat.DisplayName(ctx, c.CelebrantID)
			for _, memberID := range unpaid {
				reminder := fmt.Sprintf("Reminder: Please pay %s for %s's gift and then run /paid in the thread.",
					FormatCents(split), celebrant)
				if err := s.chat.SendDirect(ctx, memberID, reminder); err != nil {
					logCtx.WithError(err).WithField("member_id", memberID).Warn("Reminder DM failed")
				}
			}
			logCtx.WithField("unpaid", len(unpaid)).Info("Payment reminders sent")
			return s.cycles.TouchReminder(ctx, c.ID, s.now())
		}()
		if err != nil {
			logCtx.WithError(err).Error("Reminder pass failed for cycle")
		}
	}
}

// completeSettledCycles archives every cycle that is at least one day past
// its birthday with every frozen participant paid.
func (s *CycleService) completeSettledCycles(ctx context.Context, today time.Time, settling []*cycle.Cycle) {
	for _, c := range settling {
		logCtx := s.logger.WithField("cycle_id", c.ID)
		err := func() error {
			birthday := dates.Midnight(c.BirthdayDate, s.loc)
			if dates.DaysBetween(birthday, today, s.loc) < 1 {
				return nil
			}

			unpaid, err := s.unpaidParticipants(ctx, c)
			if err != nil {
				return err
			}
			if len(unpaid) > 0 {
				return nil
			}
			if !c.ThreadID.Valid {
				return nil
			}

			if _, err := s.chat.SendThreadMessage(ctx, c.ThreadID.Int64, "All payments complete. Thread will be archived."); err != nil {
				logCtx.WithError(err).Warn("Failed to post completion notice")
			}
			if err := s.chat.ArchiveThread(ctx, c.ThreadID.Int64); err != nil {
				return fmt.Errorf("failed to archive thread: %w", err)
			}
			if err := s.cycles.Complete(ctx, c.ID); err != nil {
				return err
			}
			logCtx.Info("Cycle completed and thread archived")
			return nil
		}()
		if err != nil {
			logCtx.WithError(err).Error("Completion pass failed for cycle")
		}
	}
}

// deleteExpiredThreads deletes the thread of every archived cycle whose
// archive age reaches the configured retention exactly today. The cycle row
// itself is retained.
func (s *CycleService) deleteExpiredThreads(ctx context.Context, today time.Time) {
	if s.autoDeleteDays <= 0 {
		return
	}
	archived, err := s.cycles.ListArchived(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list archived cycles")
		return
	}

	for _, c := range archived {
		logCtx := s.logger.WithField("cycle_id", c.ID)
		err := func() error {
			if !c.ThreadID.Valid {
				return nil
			}
			age := dates.DaysBetween(c.ArchivedAt.Time, today, s.loc)
			if age != s.autoDeleteDays {
				return nil
			}
			if err := s.chat.DeleteThread(ctx, c.ThreadID.Int64); err != nil {
				logCtx.WithError(err).Warn("Failed to delete expired thread")
				return nil // best-effort
			}
			logCtx.Info("Expired archived thread deleted")
			return nil
		}()
		if err != nil {
			logCtx.WithError(err).Error("Thread-deletion pass failed for cycle")
		}
	}
}

// unpaidParticipants recomputes the unpaid subset of the frozen snapshot
// from the payment ledger.
func (s *CycleService) unpaidParticipants(ctx context.Context, c *cycle.Cycle) ([]int64, error) {
	payments, err := s.cycles.ListPayments(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	paid := make(map[int64]bool, len(payments))
	for _, p := range payments {
		if p.PaidAt.Valid {
			paid[p.PayerID] = true
		}
	}
	unpaid := make([]int64, 0)
	for _, id := range c.Participants {
		if !paid[id] {
			unpaid = append(unpaid, id)
		}
	}
	return unpaid, nil
}

func threadNameFor(p *person.Person, birthday time.Time, displayName string) string {
	base := "member"
	if p.DisplayName.Valid && p.DisplayName.String != "" {
		base = p.DisplayName.String
	} else if displayName != "" {
		base = displayName
	}
	base = strings.Join(strings.Fields(strings.ToLower(base)), "-")
	return fmt.Sprintf("%s-%s", base, birthday.Format(dates.Layout))
}
