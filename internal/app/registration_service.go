// internal/app/registration_service.go
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gift_circle_bot/internal/domain/chat"
	"gift_circle_bot/internal/domain/dates"
	"gift_circle_bot/internal/domain/person"
	"gift_circle_bot/internal/infra/encryption"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for registration
var (
	ErrInvalidBirthday  = fmt.Errorf("invalid birthday: expected YYYY-MM-DD")
	ErrNoSession        = fmt.Errorf("no registration in progress")
	ErrAnswerRejected   = fmt.Errorf("answer rejected")
	ErrInvalidCityState = fmt.Errorf("could not split input into city and state")
	ErrNotRegistered    = fmt.Errorf("no profile found")
)

// skip markers accepted for the optional payment-handle steps.
func isSkip(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip", "-", "none", "no":
		return true
	}
	return false
}

// RegistrationService runs the multi-step registration flow: /register stages
// a session with the validated birthday, then successive answers fill in the
// address and payment handles. Completion encrypts the address, upserts the
// Person, deletes the session and opportunistically triggers a sweep.
type RegistrationService struct {
	persons   person.Repository
	chat      chat.Client
	encryptor *encryption.Encryptor
	loc       *time.Location
	logger    *logrus.Entry

	// onRegistered fires after a successful registration; main wires it to an
	// asynchronous sweep so a fresh registrant inside the planning window gets
	// a cycle without waiting for the next tick.
	onRegistered func()
}

func NewRegistrationService(
	pr person.Repository,
	client chat.Client,
	encryptor *encryption.Encryptor,
	loc *time.Location,
	logger *logrus.Entry,
	onRegistered func(),
) *RegistrationService {
	return &RegistrationService{
		persons:      pr,
		chat:         client,
		encryptor:    encryptor,
		loc:          loc,
		logger:       logger,
		onRegistered: onRegistered,
	}
}

// Begin validates the birthday and stages (or restarts) a registration
// session. Returns the first step to prompt for.
func (s *RegistrationService) Begin(ctx context.Context, userID int64, birthdayRaw string) (person.SessionStep, error) {
	birthday, err := dates.ParseBirthday(birthdayRaw, s.loc)
	if err != nil {
		return "", ErrInvalidBirthday
	}

	session := &person.RegistrationSession{
		ChatUserID: userID,
		Birthday:   birthday,
		Data:       person.SessionData{Step: person.StepAddressLine1},
	}
	if err := s.persons.UpsertSession(ctx, session); err != nil {
		return "", err
	}
	s.logger.WithField("user_id", userID).Info("Registration session started")
	return person.StepAddressLine1, nil
}

// StepResult reports how HandleAnswer advanced the flow.
type StepResult struct {
	Done     bool
	Existed  bool // registration replaced an earlier one
	NextStep person.SessionStep
}

// HandleAnswer consumes one free-text answer for the user's in-progress
// session and advances it. Callers should only invoke it when a session
// exists; ErrNoSession is returned otherwise.
func (s *RegistrationService) HandleAnswer(ctx context.Context, userID int64, answer string) (*StepResult, error) {
	session, err := s.persons.GetSession(ctx, userID)
	if err != nil {
		return nil, ErrNoSession
	}

	answer = strings.TrimSpace(answer)
	data := session.Data
	switch data.Step {
	case person.StepAddressLine1:
		if answer == "" {
			return nil, ErrAnswerRejected
		}
		data.Line1 = answer
		data.Step = person.StepCityState
	case person.StepCityState:
		city, state, ok := parseCityState(answer)
		if !ok {
			return nil, ErrInvalidCityState
		}
		data.City, data.State = city, state
		data.Step = person.StepPostalCode
	case person.StepPostalCode:
		if answer == "" {
			return nil, ErrAnswerRejected
		}
		data.PostalCode = answer
		data.Step = person.StepVenmo
	case person.StepVenmo:
		if !isSkip(answer) {
			data.Venmo = answer
		}
		data.Step = person.StepZelle
	case person.StepZelle:
		if !isSkip(answer) {
			data.Zelle = answer
		}
		return s.complete(ctx, session, data)
	default:
		return nil, fmt.Errorf("unknown registration step %q", data.Step)
	}

	if err := s.persons.SaveSessionData(ctx, userID, data); err != nil {
		return nil, err
	}
	return &StepResult{NextStep: data.Step}, nil
}

func (s *RegistrationService) complete(ctx context.Context, session *person.RegistrationSession, data person.SessionData) (*StepResult, error) {
	encrypted, err := s.encryptor.Encrypt(encryption.Address{
		Line1:      data.Line1,
		City:       data.City,
		State:      data.State,
		PostalCode: data.PostalCode,
		Country:    "US",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt address: %w", err)
	}

	p := &person.Person{
		ChatUserID:     session.ChatUserID,
		Birthday:       session.Birthday,
		Venmo:          nullString(data.Venmo),
		Zelle:          nullString(data.Zelle),
		DisplayName:    nullString(s.chat.DisplayName(ctx, session.ChatUserID)),
		AddressCipher:  encrypted.Ciphertext,
		AddressNonce:   encrypted.Nonce,
		AddressVersion: encrypted.Version,
	}
	existed, err := s.persons.Upsert(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.persons.DeleteSession(ctx, session.ChatUserID); err != nil {
		s.logger.WithError(err).WithField("user_id", session.ChatUserID).Warn("Failed to delete consumed registration session")
	}
	s.logger.WithFields(logrus.Fields{"user_id": session.ChatUserID, "existed": existed}).Info("Registration completed")

	if s.onRegistered != nil {
		s.onRegistered()
	}
	return &StepResult{Done: true, Existed: existed}, nil
}

// HasSession reports whether the user has a registration in progress; the
// text router uses it to decide whether a plain message is a flow answer.
func (s *RegistrationService) HasSession(ctx context.Context, userID int64) bool {
	_, err := s.persons.GetSession(ctx, userID)
	return err == nil
}

// parseCityState splits "City, ST" (preferred) or "City ST" into parts.
func parseCityState(input string) (city, state string, ok bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", "", false
	}
	if strings.Contains(raw, ",") {
		i := strings.LastIndex(raw, ",")
		city = strings.TrimSpace(raw[:i])
		state = strings.TrimSpace(raw[i+1:])
		if city != "" && state != "" {
			return city, state, true
		}
		return "", "", false
	}
	i := strings.LastIndex(raw, " ")
	if i == -1 {
		return "", "", false
	}
	city = strings.TrimSpace(raw[:i])
	state = strings.TrimSpace(raw[i+1:])
	if city != "" && state != "" {
		return city, state, true
	}
	return "", "", false
}

// Profile is the caller-visible subset of a stored registration. The address
// stays masked down to city and state.
type Profile struct {
	Birthday      string
	AddressMasked string
	Venmo         string
	Zelle         string
}

func (s *RegistrationService) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	p, err := s.persons.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrNotRegistered
	}
	addr, err := s.encryptor.Decrypt(encryption.Encrypted{
		Ciphertext: p.AddressCipher,
		Nonce:      p.AddressNonce,
		Version:    p.AddressVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt stored address: %w", err)
	}
	masked := fmt.Sprintf("%s, %s", addr.City, addr.State)
	if addr.Country != "" {
		masked += fmt.Sprintf(" (%s)", addr.Country)
	}
	return &Profile{
		Birthday:      p.Birthday.Format(dates.Layout),
		AddressMasked: masked,
		Venmo:         p.Venmo.String,
		Zelle:         p.Zelle.String,
	}, nil
}

// ListRegistered returns all registered persons for the /registered listing.
func (s *RegistrationService) ListRegistered(ctx context.Context) ([]*person.Person, error) {
	return s.persons.ListAll(ctx)
}

// Remove deletes a registration entirely.
func (s *RegistrationService) Remove(ctx context.Context, targetID int64) error {
	if err := s.persons.Delete(ctx, targetID); err != nil {
		return err
	}
	s.logger.WithField("user_id", targetID).Info("Registration removed")
	return nil
}
