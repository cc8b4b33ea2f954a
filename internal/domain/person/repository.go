package person

import "context"

// Repository defines persistence for Person entities and the short-lived
// registration sessions that stage a person's answers.
type Repository interface {
	// Upsert inserts the person or, on conflict by ChatUserID, updates the
	// birthday, payment handles and address fields in place. Returns true
	// when a row already existed.
	Upsert(ctx context.Context, p *Person) (existed bool, err error)
	GetByID(ctx context.Context, chatUserID int64) (*Person, error)
	ListAll(ctx context.Context) ([]*Person, error)
	Delete(ctx context.Context, chatUserID int64) error

	// Registration sessions. UpsertSession replaces any previous session for
	// the same user; abandoned sessions are simply overwritten next time.
	UpsertSession(ctx context.Context, s *RegistrationSession) error
	GetSession(ctx context.Context, chatUserID int64) (*RegistrationSession, error)
	SaveSessionData(ctx context.Context, chatUserID int64, data SessionData) error
	DeleteSession(ctx context.Context, chatUserID int64) error
}
