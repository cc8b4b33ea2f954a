package person

import (
	"database/sql"
	"time"
)

// Person is one registered circle member.
// Corresponds to the 'persons' table.
type Person struct {
	ChatUserID     int64     // chat-platform user ID, primary key
	Birthday       time.Time // DATE; only month/day matter for recurrence
	Venmo          sql.NullString
	Zelle          sql.NullString
	DisplayName    sql.NullString
	AddressCipher  string // base64 ciphertext+tag
	AddressNonce   string // base64 nonce
	AddressVersion int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
