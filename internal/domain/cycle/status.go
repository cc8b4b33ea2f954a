// internal/domain/cycle/status.go
package cycle

// Status is the lifecycle state of a Cycle.
type Status string

const (
	// StatusPlanning is the transient state between winning the natural-key
	// insert race and the discussion thread coming up.
	StatusPlanning Status = "planning"

	StatusOpen          Status = "open"
	StatusVotingClosed  Status = "voting_closed"
	StatusClaimed       Status = "claimed"
	StatusReceiptPosted Status = "receipt_posted"
	StatusCompleted     Status = "completed"
)
