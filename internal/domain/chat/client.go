// internal/domain/chat/client.go
package chat

import "context"

// Client is the narrow chat-platform surface the core depends on. It keeps
// the services decoupled from the concrete bot library; the production
// implementation lives in internal/infra/telegram.
type Client interface {
	// BotID is the bot's own user ID, excluded from participant sets.
	BotID() int64
	// VenueReady reports whether the configured venue and its discussion
	// channel are currently resolvable. The sweep aborts its tick when not.
	VenueReady(ctx context.Context) error
	// HasViewAccess reports whether the user can currently see the venue.
	HasViewAccess(ctx context.Context, userID int64) (bool, error)
	// DisplayName resolves a user's display name, falling back to the raw ID
	// when the platform lookup fails.
	DisplayName(ctx context.Context, userID int64) string

	// CreateThread opens a private discussion thread under the configured
	// channel and returns its ID.
	CreateThread(ctx context.Context, name string) (int64, error)
	SendThreadMessage(ctx context.Context, threadID int64, text string) (messageID int64, err error)
	EditThreadMessage(ctx context.Context, threadID, messageID int64, text string) error
	ArchiveThread(ctx context.Context, threadID int64) error
	DeleteThread(ctx context.Context, threadID int64) error

	// SendDirect delivers a DM. Callers treat failures as best-effort.
	SendDirect(ctx context.Context, userID int64, text string) error

	// SendPoll posts a poll with the given answers (platform cap: 10) in the
	// thread and returns the poll message ID plus the platform's poll ID,
	// which keys the tally updates the platform pushes back.
	SendPoll(ctx context.Context, threadID int64, question string, answers []string) (messageID int64, pollID string, err error)
	// ClosePoll stops a previously posted poll so it takes no further votes.
	// Callers treat failures as best-effort: tallies are read from pushed
	// updates, never from the close call, so a poll that is already closed
	// costs nothing.
	ClosePoll(ctx context.Context, threadID, messageID int64) error
}
