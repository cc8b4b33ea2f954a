// internal/domain/cycle/repository.go
package cycle

import (
	"context"
	"time"
)

// Repository defines persistence for Cycles, Suggestions and Payments.
// Every mutating operation is safe to retry: inserts use natural-key conflict
// resolution and state-advancing updates are guarded by WHERE predicates that
// succeed at most once.
type Repository interface {
	// CreateIfAbsent inserts a planning-state cycle keyed by
	// (venue, celebrant, birthday date) or returns the existing row untouched.
	// created reports whether this call inserted the row.
	CreateIfAbsent(ctx context.Context, c *Cycle) (created bool, err error)
	GetByID(ctx context.Context, id int32) (*Cycle, error)
	GetByThreadID(ctx context.Context, threadID int64) (*Cycle, error)
	ListByStatus(ctx context.Context, status Status) ([]*Cycle, error)
	// ListAwaitingSettlement returns cycles with a receipt posted and not yet
	// archived, regardless of status.
	ListAwaitingSettlement(ctx context.Context) ([]*Cycle, error)
	ListArchived(ctx context.Context) ([]*Cycle, error)

	// AttachThread records the created discussion thread and moves the cycle
	// from planning to open.
	AttachThread(ctx context.Context, cycleID int32, threadID int64) error
	// AttachPoll records the poll message, the platform poll ID and the
	// ordered answer map; guarded on poll_message_id IS NULL so a second
	// /poll is rejected, not duplicated.
	AttachPoll(ctx context.Context, cycleID int32, messageID int64, pollID string, answers []PollAnswer) (bool, error)
	// SavePollResults overwrites the stored per-answer tallies for the cycle
	// holding the given poll ID. Unknown poll IDs are ignored: the platform
	// also pushes updates for polls that lost a concurrent-creation race.
	SavePollResults(ctx context.Context, pollID string, counts []int) error
	// CloseVoting records the winner (invalid = no winner) and moves the cycle
	// to voting_closed.
	CloseVoting(ctx context.Context, cycleID int32, winnerSuggestionID int32, hasWinner bool) error
	// ClaimPurchaser is the single correctness-critical compare-and-swap:
	// one atomic conditional update on purchaser_id IS NULL. Returns false
	// when another claimer already won.
	ClaimPurchaser(ctx context.Context, cycleID int32, purchaserID int64) (bool, error)
	// RecordReceipt stores the total, stamps receipt_at, freezes the
	// participant snapshot and moves the cycle to receipt_posted.
	RecordReceipt(ctx context.Context, cycleID int32, totalCents int64, participants []int64) error
	SetPaidStatusMessage(ctx context.Context, cycleID int32, messageID int64) error
	TouchReminder(ctx context.Context, cycleID int32, at time.Time) error
	// Complete moves the cycle to completed and stamps archived_at.
	Complete(ctx context.Context, cycleID int32) error

	InsertSuggestion(ctx context.Context, s *Suggestion) error
	GetSuggestion(ctx context.Context, id int32) (*Suggestion, error)
	// ListSuggestions returns a cycle's suggestions ordered by creation time
	// ascending; this ordering drives poll-answer order and tie-break.
	ListSuggestions(ctx context.Context, cycleID int32) ([]*Suggestion, error)
	// SuggesterStats returns how many suggestions the suggester already has in
	// the cycle and when the latest one was created (zero time when none).
	SuggesterStats(ctx context.Context, cycleID int32, suggesterID int64) (count int, latest time.Time, err error)

	// UpsertPayment inserts or, on (cycle, payer) conflict, updates the
	// payment row in place.
	UpsertPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, cycleID int32) ([]*Payment, error)
}
