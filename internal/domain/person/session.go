package person

import "time"

// SessionStep tracks which answer the registration flow is waiting for.
type SessionStep string

const (
	StepAddressLine1 SessionStep = "ADDRESS_LINE1"
	StepCityState    SessionStep = "CITY_STATE"
	StepPostalCode   SessionStep = "POSTAL_CODE"
	StepVenmo        SessionStep = "VENMO"
	StepZelle        SessionStep = "ZELLE"
)

// SessionData is the staged answer set, stored as JSONB and replaced wholesale
// on every step.
type SessionData struct {
	Step       SessionStep `json:"step"`
	Line1      string      `json:"line1,omitempty"`
	City       string      `json:"city,omitempty"`
	State      string      `json:"state,omitempty"`
	PostalCode string      `json:"postal_code,omitempty"`
	Venmo      string      `json:"venmo,omitempty"`
	Zelle      string      `json:"zelle,omitempty"`
}

// RegistrationSession holds a person's in-progress registration across
// multiple messages. Created on /register, consumed and deleted on completion.
type RegistrationSession struct {
	ChatUserID int64
	Birthday   time.Time
	Data       SessionData
	CreatedAt  time.Time
}
