// internal/infra/database/migrate.go
package database

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS persons (
  chat_user_id BIGINT PRIMARY KEY,
  birthday DATE NOT NULL,
  venmo TEXT,
  zelle TEXT,
  display_name TEXT,
  address_ciphertext TEXT NOT NULL,
  address_nonce TEXT NOT NULL,
  address_version INT NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW(),
  updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS circles (
  venue_id BIGINT PRIMARY KEY,
  bday_channel_id BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
  id SERIAL PRIMARY KEY,
  venue_id BIGINT NOT NULL,
  celebrant_id BIGINT NOT NULL,
  birthday_date DATE NOT NULL,
  thread_id BIGINT UNIQUE,
  status TEXT NOT NULL DEFAULT 'planning',
  winner_suggestion_id INT,
  purchaser_id BIGINT,
  receipt_total NUMERIC(10,2),
  receipt_at TIMESTAMPTZ,
  participants_snapshot JSONB,
  poll_message_id BIGINT,
  poll_id TEXT,
  poll_answers JSONB,
  poll_results JSONB,
  paid_status_message_id BIGINT,
  reminder_sent_at TIMESTAMPTZ,
  archived_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ DEFAULT NOW(),
  updated_at TIMESTAMPTZ DEFAULT NOW(),
  UNIQUE (venue_id, celebrant_id, birthday_date)
);

CREATE TABLE IF NOT EXISTS suggestions (
  id SERIAL PRIMARY KEY,
  cycle_id INT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
  suggester_id BIGINT NOT NULL,
  url TEXT NOT NULL,
  title TEXT,
  price TEXT,
  message_id BIGINT,
  created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payments (
  id SERIAL PRIMARY KEY,
  cycle_id INT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
  payer_id BIGINT NOT NULL,
  paid_at TIMESTAMPTZ,
  override_by_purchaser BOOLEAN DEFAULT FALSE,
  note TEXT,
  UNIQUE (cycle_id, payer_id)
);

CREATE TABLE IF NOT EXISTS registration_sessions (
  chat_user_id BIGINT PRIMARY KEY,
  birthday DATE NOT NULL,
  data_json JSONB NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_cycles_status ON cycles(status);
CREATE INDEX IF NOT EXISTS idx_cycles_poll_id ON cycles(poll_id);
CREATE INDEX IF NOT EXISTS idx_cycles_receipt_at ON cycles(receipt_at);
CREATE INDEX IF NOT EXISTS idx_suggestions_cycle ON suggestions(cycle_id);
CREATE INDEX IF NOT EXISTS idx_payments_cycle ON payments(cycle_id);
`

// Migrate applies the idempotent schema. Safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// EnsureCircle records (or refreshes) the venue-to-channel mapping.
func EnsureCircle(ctx context.Context, db *sql.DB, venueID, channelID int64) error {
	query := `INSERT INTO circles (venue_id, bday_channel_id) VALUES ($1, $2)
               ON CONFLICT (venue_id) DO UPDATE SET bday_channel_id = EXCLUDED.bday_channel_id`
	if _, err := db.ExecContext(ctx, query, venueID, channelID); err != nil {
		return fmt.Errorf("error ensuring circle mapping: %w", err)
	}
	return nil
}
