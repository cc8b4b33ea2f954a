// internal/app/registration_service_test.go
package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"gift_circle_bot/internal/domain/person"
	"gift_circle_bot/internal/infra/encryption"
)

func newRegistrationFixture(t *testing.T) (*RegistrationService, *fakePersonRepo, *fakeChat, *encryption.Encryptor, *int) {
	t.Helper()
	pr := newFakePersonRepo()
	ch := newFakeChat(999)
	enc, err := encryption.NewEncryptor("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	registered := 0
	svc := NewRegistrationService(pr, ch, enc, time.UTC, testLogger(), func() { registered++ })
	return svc, pr, ch, enc, &registered
}

func runFlow(t *testing.T, svc *RegistrationService, userID int64, birthday string, answers []string) *StepResult {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Begin(ctx, userID, birthday); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var result *StepResult
	for i, answer := range answers {
		var err error
		result, err = svc.HandleAnswer(ctx, userID, answer)
		if err != nil {
			t.Fatalf("answer %d (%q): %v", i+1, answer, err)
		}
	}
	return result
}

func TestRegistrationFlow(t *testing.T) {
	svc, pr, ch, enc, registered := newRegistrationFixture(t)
	ch.addMember(5, "Eve")

	result := runFlow(t, svc, 5, "1990-06-11",
		[]string{"12 Oak St", "Portland, OR", "97201", "@eve-pays", "skip"})

	if !result.Done {
		t.Fatal("flow not done after the final answer")
	}
	if result.Existed {
		t.Error("Existed = true on first registration")
	}
	if *registered != 1 {
		t.Errorf("onRegistered fired %d times, want 1", *registered)
	}
	if svc.HasSession(context.Background(), 5) {
		t.Error("session still present after completion")
	}

	p, err := pr.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got := p.Birthday.Format("2006-01-02"); got != "1990-06-11" {
		t.Errorf("birthday = %s, want 1990-06-11", got)
	}
	if !p.Venmo.Valid || p.Venmo.String != "@eve-pays" {
		t.Errorf("venmo = %+v, want @eve-pays", p.Venmo)
	}
	if p.Zelle.Valid {
		t.Errorf("zelle = %+v, want empty", p.Zelle)
	}
	if !p.DisplayName.Valid || p.DisplayName.String != "Eve" {
		t.Errorf("display name = %+v, want Eve", p.DisplayName)
	}

	addr, err := enc.Decrypt(encryption.Encrypted{
		Ciphertext: p.AddressCipher,
		Nonce:      p.AddressNonce,
		Version:    p.AddressVersion,
	})
	if err != nil {
		t.Fatalf("Decrypt stored address: %v", err)
	}
	want := encryption.Address{Line1: "12 Oak St", City: "Portland", State: "OR", PostalCode: "97201", Country: "US"}
	if addr != want {
		t.Errorf("stored address = %+v, want %+v", addr, want)
	}
}

func TestRegistrationInvalidBirthday(t *testing.T) {
	svc, _, _, _, _ := newRegistrationFixture(t)

	for _, input := range []string{"June 11", "1990-02-30", "11-06-1990x"} {
		if _, err := svc.Begin(context.Background(), 5, input); !errors.Is(err, ErrInvalidBirthday) {
			t.Errorf("Begin(%q) = %v, want ErrInvalidBirthday", input, err)
		}
	}
	if svc.HasSession(context.Background(), 5) {
		t.Error("session created for an invalid birthday")
	}
}

func TestRegistrationRestartsSession(t *testing.T) {
	svc, pr, _, _, _ := newRegistrationFixture(t)
	ctx := context.Background()

	if _, err := svc.Begin(ctx, 5, "1990-06-11"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := svc.HandleAnswer(ctx, 5, "12 Oak St"); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	// A second /register discards the partial session and starts over.
	if _, err := svc.Begin(ctx, 5, "1991-07-12"); err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	session, err := pr.GetSession(ctx, 5)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Data.Step != person.StepAddressLine1 {
		t.Errorf("restarted session step = %s, want %s", session.Data.Step, person.StepAddressLine1)
	}
	if session.Data.Line1 != "" {
		t.Errorf("restarted session kept line1 %q", session.Data.Line1)
	}
	if got := session.Birthday.Format("2006-01-02"); got != "1991-07-12" {
		t.Errorf("restarted session birthday = %s, want 1991-07-12", got)
	}
}

func TestRegistrationRejectsBadCityState(t *testing.T) {
	svc, _, _, _, _ := newRegistrationFixture(t)
	ctx := context.Background()

	if _, err := svc.Begin(ctx, 5, "1990-06-11"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := svc.HandleAnswer(ctx, 5, "12 Oak St"); err != nil {
		t.Fatalf("line1: %v", err)
	}

	if _, err := svc.HandleAnswer(ctx, 5, "Portland"); !errors.Is(err, ErrInvalidCityState) {
		t.Fatalf("one-word city/state = %v, want ErrInvalidCityState", err)
	}

	// The step does not advance on a rejected answer; a space-separated form
	// is accepted on retry.
	result, err := svc.HandleAnswer(ctx, 5, "Portland OR")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.NextStep != person.StepPostalCode {
		t.Errorf("next step = %s, want %s", result.NextStep, person.StepPostalCode)
	}
}

func TestRegistrationRejectsEmptyAnswers(t *testing.T) {
	svc, _, _, _, _ := newRegistrationFixture(t)
	ctx := context.Background()

	if _, err := svc.Begin(ctx, 5, "1990-06-11"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := svc.HandleAnswer(ctx, 5, "   "); !errors.Is(err, ErrAnswerRejected) {
		t.Errorf("blank line1 = %v, want ErrAnswerRejected", err)
	}
}

func TestRegistrationSkipVariants(t *testing.T) {
	svc, pr, _, _, _ := newRegistrationFixture(t)

	result := runFlow(t, svc, 5, "1990-06-11",
		[]string{"12 Oak St", "Portland, OR", "97201", "none", "-"})
	if !result.Done {
		t.Fatal("flow not done")
	}
	p, err := pr.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if p.Venmo.Valid || p.Zelle.Valid {
		t.Errorf("skip answers stored as handles: venmo=%+v zelle=%+v", p.Venmo, p.Zelle)
	}
}

func TestRegistrationUpdateExisting(t *testing.T) {
	svc, _, _, _, registered := newRegistrationFixture(t)

	first := runFlow(t, svc, 5, "1990-06-11",
		[]string{"12 Oak St", "Portland, OR", "97201", "skip", "skip"})
	if first.Existed {
		t.Error("first registration reported Existed")
	}
	second := runFlow(t, svc, 5, "1990-06-12",
		[]string{"34 Elm St", "Salem, OR", "97301", "skip", "skip"})
	if !second.Existed {
		t.Error("re-registration did not report Existed")
	}
	if *registered != 2 {
		t.Errorf("onRegistered fired %d times, want 2", *registered)
	}
}

func TestHandleAnswerWithoutSession(t *testing.T) {
	svc, _, _, _, _ := newRegistrationFixture(t)

	if _, err := svc.HandleAnswer(context.Background(), 5, "12 Oak St"); !errors.Is(err, ErrNoSession) {
		t.Errorf("HandleAnswer without session = %v, want ErrNoSession", err)
	}
}

func TestGetProfileMasksAddress(t *testing.T) {
	svc, _, _, _, _ := newRegistrationFixture(t)
	runFlow(t, svc, 5, "1990-06-11",
		[]string{"12 Oak St", "Portland, OR", "97201", "@eve-pays", "skip"})

	profile, err := svc.GetProfile(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.Birthday != "1990-06-11" {
		t.Errorf("birthday = %s, want 1990-06-11", profile.Birthday)
	}
	if profile.AddressMasked != "Portland, OR (US)" {
		t.Errorf("masked address = %q, want \"Portland, OR (US)\"", profile.AddressMasked)
	}
	if profile.Venmo != "@eve-pays" {
		t.Errorf("venmo = %q, want @eve-pays", profile.Venmo)
	}

	if _, err := svc.GetProfile(context.Background(), 77); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("GetProfile for unknown user = %v, want ErrNotRegistered", err)
	}
}

func TestRemoveRegistration(t *testing.T) {
	svc, pr, _, _, _ := newRegistrationFixture(t)
	runFlow(t, svc, 5, "1990-06-11",
		[]string{"12 Oak St", "Portland, OR", "97201", "skip", "skip"})

	if err := svc.Remove(context.Background(), 5); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := pr.GetByID(context.Background(), 5); err == nil {
		t.Error("person still present after Remove")
	}
}

func TestParseCityState(t *testing.T) {
	tests := []struct {
		input     string
		wantCity  string
		wantState string
		wantOK    bool
	}{
		{input: "Portland, OR", wantCity: "Portland", wantState: "OR", wantOK: true},
		{input: "Portland OR", wantCity: "Portland", wantState: "OR", wantOK: true},
		{input: "Salt Lake City, UT", wantCity: "Salt Lake City", wantState: "UT", wantOK: true},
		{input: "Salt Lake City UT", wantCity: "Salt Lake City", wantState: "UT", wantOK: true},
		{input: "  Boise ,  ID ", wantCity: "Boise", wantState: "ID", wantOK: true},
		{input: "Portland", wantOK: false},
		{input: "Portland,", wantOK: false},
		{input: ", OR", wantOK: false},
		{input: "", wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			city, state, ok := parseCityState(tc.input)
			if ok != tc.wantOK {
				t.Fatalf("parseCityState(%q) ok = %v, want %v", tc.input, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if city != tc.wantCity || state != tc.wantState {
				t.Errorf("parseCityState(%q) = (%q, %q), want (%q, %q)",
					tc.input, city, state, tc.wantCity, tc.wantState)
			}
		})
	}
}
