// internal/domain/cycle/cycle.go
package cycle

import (
	"database/sql"
	"time"
)

// Cycle is one gift-pool instance for one celebrant's birthday in one year.
// Corresponds to the 'cycles' table; (VenueID, CelebrantID, BirthdayDate) is
// the natural key and insert attempts for an existing triple must be no-ops.
type Cycle struct {
	ID                  int32
	VenueID             int64
	CelebrantID         int64
	BirthdayDate        time.Time // DATE of this year's celebrated birthday
	ThreadID            sql.NullInt64
	Status              Status
	WinnerSuggestionID  sql.NullInt32
	PurchaserID         sql.NullInt64
	ReceiptTotalCents   sql.NullInt64
	ReceiptAt           sql.NullTime
	Participants        []int64 // frozen snapshot; nil until receipt time
	PollMessageID       sql.NullInt64
	PollID              sql.NullString // platform poll ID, key for tally updates
	PollAnswers         []PollAnswer   // ordered answer -> suggestion map; nil until /poll
	PollResults         []int          // latest per-answer tallies pushed by the platform
	PaidStatusMessageID sql.NullInt64
	ReminderSentAt      sql.NullTime
	ArchivedAt          sql.NullTime
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PollAnswer maps one poll answer position to the suggestion behind it.
// The slice order is the order answers were posted in, which is also the
// tie-break order (earliest-added answer wins a tie).
type PollAnswer struct {
	Index        int   `json:"index"`
	SuggestionID int32 `json:"suggestion_id"`
}

// Suggestion is one proposed gift attached to a Cycle.
type Suggestion struct {
	ID          int32
	CycleID     int32
	SuggesterID int64
	URL         string
	Title       sql.NullString
	Price       sql.NullString
	MessageID   sql.NullInt64
	CreatedAt   time.Time
}

// Payment is one participant's payment record within a Cycle. Unique per
// (CycleID, PayerID); created unpaid for every frozen participant at receipt
// time and updated in place thereafter.
type Payment struct {
	ID                  int32
	CycleID             int32
	PayerID             int64
	PaidAt              sql.NullTime
	OverrideByPurchaser bool
	Note                sql.NullString
}
