// internal/infra/database/postgres_person_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gift_circle_bot/internal/domain/person"
)

// Custom errors specific to person repository
var ErrPersonNotFound = fmt.Errorf("person not found")
var ErrSessionNotFound = fmt.Errorf("registration session not found")

type PostgresPersonRepository struct {
	db *sql.DB
}

func NewPostgresPersonRepository(db *sql.DB) *PostgresPersonRepository {
	return &PostgresPersonRepository{db: db}
}

func (r *PostgresPersonRepository) Upsert(ctx context.Context, p *person.Person) (bool, error) {
	query := `INSERT INTO persons (chat_user_id, birthday, venmo, zelle, display_name, address_ciphertext, address_nonce, address_version)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               ON CONFLICT (chat_user_id)
               DO UPDATE SET birthday = EXCLUDED.birthday, venmo = EXCLUDED.venmo, zelle = EXCLUDED.zelle,
                 display_name = EXCLUDED.display_name,
                 address_ciphertext = EXCLUDED.address_ciphertext, address_nonce = EXCLUDED.address_nonce,
                 address_version = EXCLUDED.address_version, updated_at = NOW()
               RETURNING (created_at <> updated_at), created_at, updated_at`
	var existed bool
	err := r.db.QueryRowContext(ctx, query,
		p.ChatUserID, p.Birthday, p.Venmo, p.Zelle, p.DisplayName,
		p.AddressCipher, p.AddressNonce, p.AddressVersion,
	).Scan(&existed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("error upserting person: %w", err)
	}
	return existed, nil
}

func scanPerson(row interface{ Scan(...any) error }) (*person.Person, error) {
	p := person.Person{}
	err := row.Scan(
		&p.ChatUserID, &p.Birthday, &p.Venmo, &p.Zelle, &p.DisplayName,
		&p.AddressCipher, &p.AddressNonce, &p.AddressVersion,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const personColumns = `chat_user_id, birthday, venmo, zelle, display_name, address_ciphertext, address_nonce, address_version, created_at, updated_at`

func (r *PostgresPersonRepository) GetByID(ctx context.Context, chatUserID int64) (*person.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE chat_user_id = $1`
	p, err := scanPerson(r.db.QueryRowContext(ctx, query, chatUserID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPersonNotFound
		}
		return nil, fmt.Errorf("error getting person by ID: %w", err)
	}
	return p, nil
}

func (r *PostgresPersonRepository) ListAll(ctx context.Context) ([]*person.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons ORDER BY birthday, chat_user_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing persons: %w", err)
	}
	defer rows.Close()

	persons := make([]*person.Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning person row: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating person rows: %w", err)
	}
	return persons, nil
}

func (r *PostgresPersonRepository) Delete(ctx context.Context, chatUserID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM persons WHERE chat_user_id = $1`, chatUserID)
	if err != nil {
		return fmt.Errorf("error deleting person: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking deleted person rows: %w", err)
	}
	if affected == 0 {
		return ErrPersonNotFound
	}
	return nil
}

// --- RegistrationSession methods ---

func (r *PostgresPersonRepository) UpsertSession(ctx context.Context, s *person.RegistrationSession) error {
	data, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("error marshaling session data: %w", err)
	}
	query := `INSERT INTO registration_sessions (chat_user_id, birthday, data_json)
               VALUES ($1, $2, $3)
               ON CONFLICT (chat_user_id)
               DO UPDATE SET birthday = EXCLUDED.birthday, data_json = EXCLUDED.data_json, created_at = NOW()
               RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query, s.ChatUserID, s.Birthday, data).Scan(&s.CreatedAt); err != nil {
		return fmt.Errorf("error upserting registration session: %w", err)
	}
	return nil
}

func (r *PostgresPersonRepository) GetSession(ctx context.Context, chatUserID int64) (*person.RegistrationSession, error) {
	query := `SELECT chat_user_id, birthday, data_json, created_at FROM registration_sessions WHERE chat_user_id = $1`
	s := person.RegistrationSession{}
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, chatUserID).Scan(&s.ChatUserID, &s.Birthday, &raw, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("error getting registration session: %w", err)
	}
	if err := json.Unmarshal(raw, &s.Data); err != nil {
		return nil, fmt.Errorf("error decoding registration session data: %w", err)
	}
	return &s, nil
}

func (r *PostgresPersonRepository) SaveSessionData(ctx context.Context, chatUserID int64, data person.SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshaling session data: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE registration_sessions SET data_json = $1 WHERE chat_user_id = $2`, raw, chatUserID)
	if err != nil {
		return fmt.Errorf("error saving registration session data: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking session update rows: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PostgresPersonRepository) DeleteSession(ctx context.Context, chatUserID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM registration_sessions WHERE chat_user_id = $1`, chatUserID); err != nil {
		return fmt.Errorf("error deleting registration session: %w", err)
	}
	return nil
}
