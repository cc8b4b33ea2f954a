// internal/infra/database/postgres_cycle_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gift_circle_bot/internal/domain/cycle"
)

// Custom errors specific to cycle repository
var ErrCycleNotFound = fmt.Errorf("cycle not found")
var ErrSuggestionNotFound = fmt.Errorf("suggestion not found")

type PostgresCycleRepository struct {
	db *sql.DB
}

func NewPostgresCycleRepository(db *sql.DB) *PostgresCycleRepository {
	return &PostgresCycleRepository{db: db}
}

const cycleColumns = `id, venue_id, celebrant_id, birthday_date, thread_id, status,
       winner_suggestion_id, purchaser_id, receipt_total, receipt_at,
       participants_snapshot, poll_message_id, poll_id, poll_answers, poll_results,
       paid_status_message_id, reminder_sent_at, archived_at, created_at, updated_at`

func scanCycle(row interface{ Scan(...any) error }) (*cycle.Cycle, error) {
	c := cycle.Cycle{}
	var total sql.NullString // NUMERIC(10,2) scanned as text, converted to cents
	var participantsRaw, answersRaw, resultsRaw []byte
	err := row.Scan(
		&c.ID, &c.VenueID, &c.CelebrantID, &c.BirthdayDate, &c.ThreadID, &c.Status,
		&c.WinnerSuggestionID, &c.PurchaserID, &total, &c.ReceiptAt,
		&participantsRaw, &c.PollMessageID, &c.PollID, &answersRaw, &resultsRaw,
		&c.PaidStatusMessageID, &c.ReminderSentAt, &c.ArchivedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		cents, err := parseNumericCents(total.String)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: bad receipt_total %q: %w", c.ID, total.String, err)
		}
		c.ReceiptTotalCents = sql.NullInt64{Int64: cents, Valid: true}
	}
	// Stored JSON is validated on read rather than trusted blindly.
	if len(participantsRaw) > 0 {
		if err := json.Unmarshal(participantsRaw, &c.Participants); err != nil {
			return nil, fmt.Errorf("cycle %d: bad participants snapshot: %w", c.ID, err)
		}
	}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &c.PollAnswers); err != nil {
			return nil, fmt.Errorf("cycle %d: bad poll answer map: %w", c.ID, err)
		}
	}
	if len(resultsRaw) > 0 {
		if err := json.Unmarshal(resultsRaw, &c.PollResults); err != nil {
			return nil, fmt.Errorf("cycle %d: bad poll results: %w", c.ID, err)
		}
	}
	return &c, nil
}

// parseNumericCents converts a NUMERIC(10,2) text value like "123.40" or
// "123" into integer cents without going through floats.
func parseNumericCents(s string) (int64, error) {
	neg := false
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac := s, ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			whole, frac = s[:i], s[i+1:]
			break
		}
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var cents int64
	for _, part := range []string{whole, frac} {
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return 0, fmt.Errorf("not a decimal number")
			}
			cents = cents*10 + int64(ch-'0')
		}
	}
	if neg {
		cents = -cents
	}
	return cents, nil
}

func formatNumericCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// --- Cycle methods ---

func (r *PostgresCycleRepository) CreateIfAbsent(ctx context.Context, c *cycle.Cycle) (bool, error) {
	insert := `INSERT INTO cycles (venue_id, celebrant_id, birthday_date, status)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (venue_id, celebrant_id, birthday_date) DO NOTHING
               RETURNING id, status, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, insert, c.VenueID, c.CelebrantID, c.BirthdayDate, cycle.StatusPlanning).
		Scan(&c.ID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("error creating cycle: %w", err)
	}

	// Lost the insert race (or the row predates this sweep): load the
	// existing row so callers always see current state.
	query := `SELECT ` + cycleColumns + ` FROM cycles
               WHERE venue_id = $1 AND celebrant_id = $2 AND birthday_date = $3`
	existing, err := scanCycle(r.db.QueryRowContext(ctx, query, c.VenueID, c.CelebrantID, c.BirthdayDate))
	if err != nil {
		return false, fmt.Errorf("error fetching existing cycle: %w", err)
	}
	*c = *existing
	return false, nil
}

func (r *PostgresCycleRepository) GetByID(ctx context.Context, id int32) (*cycle.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE id = $1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting cycle by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresCycleRepository) GetByThreadID(ctx context.Context, threadID int64) (*cycle.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE thread_id = $1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, threadID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting cycle by thread ID: %w", err)
	}
	return c, nil
}

func (r *PostgresCycleRepository) listCycles(ctx context.Context, query string, args ...any) ([]*cycle.Cycle, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]*cycle.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cycle row: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}
	return cycles, nil
}

func (r *PostgresCycleRepository) ListByStatus(ctx context.Context, status cycle.Status) ([]*cycle.Cycle, error) {
	return r.listCycles(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE status = $1 ORDER BY id`, status)
}

func (r *PostgresCycleRepository) ListAwaitingSettlement(ctx context.Context) ([]*cycle.Cycle, error) {
	return r.listCycles(ctx, `SELECT `+cycleColumns+` FROM cycles
               WHERE receipt_at IS NOT NULL AND participants_snapshot IS NOT NULL AND archived_at IS NULL
               ORDER BY id`)
}

func (r *PostgresCycleRepository) ListArchived(ctx context.Context) ([]*cycle.Cycle, error) {
	return r.listCycles(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE archived_at IS NOT NULL ORDER BY id`)
}

func (r *PostgresCycleRepository) AttachThread(ctx context.Context, cycleID int32, threadID int64) error {
	query := `UPDATE cycles SET thread_id = $1, status = $2, updated_at = NOW() WHERE id = $3`
	return r.execOnCycle(ctx, query, threadID, cycle.StatusOpen, cycleID)
}

func (r *PostgresCycleRepository) AttachPoll(ctx context.Context, cycleID int32, messageID int64, pollID string, answers []cycle.PollAnswer) (bool, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return false, fmt.Errorf("error marshaling poll answers: %w", err)
	}
	query := `UPDATE cycles SET poll_message_id = $1, poll_id = $2, poll_answers = $3, updated_at = NOW()
               WHERE id = $4 AND poll_message_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, messageID, pollID, raw, cycleID)
	if err != nil {
		return false, fmt.Errorf("error attaching poll: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking poll attach rows: %w", err)
	}
	return affected == 1, nil
}

// SavePollResults lands the latest tallies for the poll's cycle. Zero rows
// affected is not an error: updates also arrive for polls that lost the
// concurrent /poll race and were never attached.
func (r *PostgresCycleRepository) SavePollResults(ctx context.Context, pollID string, counts []int) error {
	raw, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("error marshaling poll results: %w", err)
	}
	query := `UPDATE cycles SET poll_results = $1, updated_at = NOW() WHERE poll_id = $2`
	if _, err := r.db.ExecContext(ctx, query, raw, pollID); err != nil {
		return fmt.Errorf("error saving poll results: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) CloseVoting(ctx context.Context, cycleID int32, winnerSuggestionID int32, hasWinner bool) error {
	winner := sql.NullInt32{Int32: winnerSuggestionID, Valid: hasWinner}
	query := `UPDATE cycles SET winner_suggestion_id = $1, status = $2, updated_at = NOW() WHERE id = $3`
	return r.execOnCycle(ctx, query, winner, cycle.StatusVotingClosed, cycleID)
}

// ClaimPurchaser is one atomic conditional update; concurrent claimers race on
// the purchaser_id IS NULL predicate and exactly one affects a row.
func (r *PostgresCycleRepository) ClaimPurchaser(ctx context.Context, cycleID int32, purchaserID int64) (bool, error) {
	query := `UPDATE cycles SET purchaser_id = $1, status = $2, updated_at = NOW()
               WHERE id = $3 AND purchaser_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, purchaserID, cycle.StatusClaimed, cycleID)
	if err != nil {
		return false, fmt.Errorf("error claiming purchaser: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking claim rows: %w", err)
	}
	return affected == 1, nil
}

func (r *PostgresCycleRepository) RecordReceipt(ctx context.Context, cycleID int32, totalCents int64, participants []int64) error {
	snapshot, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("error marshaling participant snapshot: %w", err)
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for receipt: %w", err)
	}
	defer txn.Rollback()

	update := `UPDATE cycles SET receipt_total = $1, receipt_at = NOW(), participants_snapshot = $2,
               status = $3, updated_at = NOW() WHERE id = $4`
	res, err := txn.ExecContext(ctx, update, formatNumericCents(totalCents), snapshot, cycle.StatusReceiptPosted, cycleID)
	if err != nil {
		return fmt.Errorf("error recording receipt: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("error checking receipt rows: %w", err)
	} else if affected == 0 {
		return ErrCycleNotFound
	}

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO payments (cycle_id, payer_id)
               VALUES ($1, $2) ON CONFLICT (cycle_id, payer_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare payment insert: %w", err)
	}
	defer stmt.Close()
	for _, payerID := range participants {
		if _, err := stmt.ExecContext(ctx, cycleID, payerID); err != nil {
			return fmt.Errorf("error creating payment row for payer %d: %w", payerID, err)
		}
	}

	return txn.Commit()
}

func (r *PostgresCycleRepository) SetPaidStatusMessage(ctx context.Context, cycleID int32, messageID int64) error {
	return r.execOnCycle(ctx, `UPDATE cycles SET paid_status_message_id = $1, updated_at = NOW() WHERE id = $2`, messageID, cycleID)
}

func (r *PostgresCycleRepository) TouchReminder(ctx context.Context, cycleID int32, at time.Time) error {
	return r.execOnCycle(ctx, `UPDATE cycles SET reminder_sent_at = $1, updated_at = NOW() WHERE id = $2`, at, cycleID)
}

func (r *PostgresCycleRepository) Complete(ctx context.Context, cycleID int32) error {
	return r.execOnCycle(ctx, `UPDATE cycles SET status = $1, archived_at = NOW(), updated_at = NOW() WHERE id = $2`,
		cycle.StatusCompleted, cycleID)
}

func (r *PostgresCycleRepository) execOnCycle(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating cycle: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking updated cycle rows: %w", err)
	}
	if affected == 0 {
		return ErrCycleNotFound
	}
	return nil
}

// --- Suggestion methods ---

func (r *PostgresCycleRepository) InsertSuggestion(ctx context.Context, s *cycle.Suggestion) error {
	query := `INSERT INTO suggestions (cycle_id, suggester_id, url, title, price, message_id)
               VALUES ($1, $2, $3, $4, $5, $6)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, s.CycleID, s.SuggesterID, s.URL, s.Title, s.Price, s.MessageID).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("error inserting suggestion: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) GetSuggestion(ctx context.Context, id int32) (*cycle.Suggestion, error) {
	query := `SELECT id, cycle_id, suggester_id, url, title, price, message_id, created_at
               FROM suggestions WHERE id = $1`
	s := cycle.Suggestion{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.CycleID, &s.SuggesterID, &s.URL, &s.Title, &s.Price, &s.MessageID, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSuggestionNotFound
		}
		return nil, fmt.Errorf("error getting suggestion: %w", err)
	}
	return &s, nil
}

func (r *PostgresCycleRepository) ListSuggestions(ctx context.Context, cycleID int32) ([]*cycle.Suggestion, error) {
	query := `SELECT id, cycle_id, suggester_id, url, title, price, message_id, created_at
               FROM suggestions WHERE cycle_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing suggestions: %w", err)
	}
	defer rows.Close()

	suggestions := make([]*cycle.Suggestion, 0)
	for rows.Next() {
		s := cycle.Suggestion{}
		if err := rows.Scan(&s.ID, &s.CycleID, &s.SuggesterID, &s.URL, &s.Title, &s.Price, &s.MessageID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning suggestion row: %w", err)
		}
		suggestions = append(suggestions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suggestion rows: %w", err)
	}
	return suggestions, nil
}

func (r *PostgresCycleRepository) SuggesterStats(ctx context.Context, cycleID int32, suggesterID int64) (int, time.Time, error) {
	query := `SELECT COUNT(*)::int, MAX(created_at) FROM suggestions
               WHERE cycle_id = $1 AND suggester_id = $2`
	var count int
	var latest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, cycleID, suggesterID).Scan(&count, &latest); err != nil {
		return 0, time.Time{}, fmt.Errorf("error getting suggester stats: %w", err)
	}
	return count, latest.Time, nil
}

// --- Payment methods ---

func (r *PostgresCycleRepository) UpsertPayment(ctx context.Context, p *cycle.Payment) error {
	query := `INSERT INTO payments (cycle_id, payer_id, paid_at, override_by_purchaser, note)
               VALUES ($1, $2, $3, $4, $5)
               ON CONFLICT (cycle_id, payer_id)
               DO UPDATE SET paid_at = EXCLUDED.paid_at, override_by_purchaser = EXCLUDED.override_by_purchaser,
                 note = EXCLUDED.note
               RETURNING id`
	err := r.db.QueryRowContext(ctx, query, p.CycleID, p.PayerID, p.PaidAt, p.OverrideByPurchaser, p.Note).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("error upserting payment: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) ListPayments(ctx context.Context, cycleID int32) ([]*cycle.Payment, error) {
	query := `SELECT id, cycle_id, payer_id, paid_at, override_by_purchaser, note
               FROM payments WHERE cycle_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*cycle.Payment, 0)
	for rows.Next() {
		p := cycle.Payment{}
		if err := rows.Scan(&p.ID, &p.CycleID, &p.PayerID, &p.PaidAt, &p.OverrideByPurchaser, &p.Note); err != nil {
			return nil, fmt.Errorf("error scanning payment row: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return payments, nil
}
