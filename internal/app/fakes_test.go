// internal/app/fakes_test.go
package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"gift_circle_bot/internal/domain/cycle"
	"gift_circle_bot/internal/domain/person"
	"gift_circle_bot/internal/infra/webmeta"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

// --- person.Repository fake ---

type fakePersonRepo struct {
	mu       sync.Mutex
	persons  map[int64]*person.Person
	sessions map[int64]*person.RegistrationSession
}

func newFakePersonRepo() *fakePersonRepo {
	return &fakePersonRepo{
		persons:  make(map[int64]*person.Person),
		sessions: make(map[int64]*person.RegistrationSession),
	}
}

func (r *fakePersonRepo) Upsert(_ context.Context, p *person.Person) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.persons[p.ChatUserID]
	cp := *p
	r.persons[p.ChatUserID] = &cp
	return existed, nil
}

func (r *fakePersonRepo) GetByID(_ context.Context, id int64) (*person.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.persons[id]
	if !ok {
		return nil, fmt.Errorf("person %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (r *fakePersonRepo) ListAll(_ context.Context) ([]*person.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*person.Person, 0, len(r.persons))
	for _, p := range r.persons {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatUserID < out[j].ChatUserID })
	return out, nil
}

func (r *fakePersonRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.persons[id]; !ok {
		return fmt.Errorf("person %d not found", id)
	}
	delete(r.persons, id)
	return nil
}

func (r *fakePersonRepo) UpsertSession(_ context.Context, s *person.RegistrationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ChatUserID] = &cp
	return nil
}

func (r *fakePersonRepo) GetSession(_ context.Context, id int64) (*person.RegistrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session for %d not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r *fakePersonRepo) SaveSessionData(_ context.Context, id int64, data person.SessionData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session for %d not found", id)
	}
	s.Data = data
	return nil
}

func (r *fakePersonRepo) DeleteSession(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// --- cycle.Repository fake ---

type fakeCycleRepo struct {
	mu               sync.Mutex
	nextCycleID      int32
	nextSuggestionID int32
	nextPaymentID    int32
	clock            time.Time
	cycles           map[int32]*cycle.Cycle
	suggestions      map[int32]*cycle.Suggestion
	payments         map[int32]map[int64]*cycle.Payment

	closeVotingErr func(cycleID int32) error // per-cycle failure injection
}

func newFakeCycleRepo() *fakeCycleRepo {
	return &fakeCycleRepo{
		clock:       time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		cycles:      make(map[int32]*cycle.Cycle),
		suggestions: make(map[int32]*cycle.Suggestion),
		payments:    make(map[int32]map[int64]*cycle.Payment),
	}
}

// tick returns a strictly increasing timestamp for ordering-sensitive rows.
func (r *fakeCycleRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func copyCycle(c *cycle.Cycle) *cycle.Cycle {
	cp := *c
	cp.Participants = append([]int64(nil), c.Participants...)
	cp.PollAnswers = append([]cycle.PollAnswer(nil), c.PollAnswers...)
	cp.PollResults = append([]int(nil), c.PollResults...)
	return &cp
}

func (r *fakeCycleRepo) CreateIfAbsent(_ context.Context, c *cycle.Cycle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cycles {
		if existing.VenueID == c.VenueID && existing.CelebrantID == c.CelebrantID &&
			existing.BirthdayDate.Equal(c.BirthdayDate) {
			*c = *copyCycle(existing)
			return false, nil
		}
	}
	r.nextCycleID++
	c.ID = r.nextCycleID
	c.Status = cycle.StatusPlanning
	c.CreatedAt = r.tick()
	c.UpdatedAt = c.CreatedAt
	r.cycles[c.ID] = copyCycle(c)
	return true, nil
}

func (r *fakeCycleRepo) GetByID(_ context.Context, id int32) (*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return nil, fmt.Errorf("cycle %d not found", id)
	}
	return copyCycle(c), nil
}

func (r *fakeCycleRepo) GetByThreadID(_ context.Context, threadID int64) (*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cycles {
		if c.ThreadID.Valid && c.ThreadID.Int64 == threadID {
			return copyCycle(c), nil
		}
	}
	return nil, fmt.Errorf("cycle for thread %d not found", threadID)
}

func (r *fakeCycleRepo) ListByStatus(_ context.Context, status cycle.Status) ([]*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*cycle.Cycle
	for _, c := range r.cycles {
		if c.Status == status {
			out = append(out, copyCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeCycleRepo) ListAwaitingSettlement(_ context.Context) ([]*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*cycle.Cycle
	for _, c := range r.cycles {
		if c.ReceiptAt.Valid && !c.ArchivedAt.Valid {
			out = append(out, copyCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeCycleRepo) ListArchived(_ context.Context) ([]*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*cycle.Cycle
	for _, c := range r.cycles {
		if c.ArchivedAt.Valid {
			out = append(out, copyCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeCycleRepo) AttachThread(_ context.Context, cycleID int32, threadID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	c.ThreadID = nullInt64(threadID)
	c.Status = cycle.StatusOpen
	c.UpdatedAt = r.tick()
	return nil
}

func (r *fakeCycleRepo) AttachPoll(_ context.Context, cycleID int32, messageID int64, pollID string, answers []cycle.PollAnswer) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return false, fmt.Errorf("cycle %d not found", cycleID)
	}
	if c.PollMessageID.Valid {
		return false, nil
	}
	c.PollMessageID = nullInt64(messageID)
	c.PollID = nullString(pollID)
	c.PollAnswers = append([]cycle.PollAnswer(nil), answers...)
	c.UpdatedAt = r.tick()
	return true, nil
}

func (r *fakeCycleRepo) SavePollResults(_ context.Context, pollID string, counts []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cycles {
		if c.PollID.Valid && c.PollID.String == pollID {
			c.PollResults = append([]int(nil), counts...)
			c.UpdatedAt = r.tick()
			return nil
		}
	}
	return nil
}

func (r *fakeCycleRepo) CloseVoting(_ context.Context, cycleID int32, winnerSuggestionID int32, hasWinner bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeVotingErr != nil {
		if err := r.closeVotingErr(cycleID); err != nil {
			return err
		}
	}
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	if hasWinner {
		c.WinnerSuggestionID.Int32 = winnerSuggestionID
		c.WinnerSuggestionID.Valid = true
	}
	c.Status = cycle.StatusVotingClosed
	c.UpdatedAt = r.tick()
	return nil
}

func (r *fakeCycleRepo) ClaimPurchaser(_ context.Context, cycleID int32, purchaserID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return false, fmt.Errorf("cycle %d not found", cycleID)
	}
	if c.PurchaserID.Valid {
		return false, nil
	}
	c.PurchaserID = nullInt64(purchaserID)
	c.Status = cycle.StatusClaimed
	c.UpdatedAt = r.tick()
	return true, nil
}

func (r *fakeCycleRepo) RecordReceipt(_ context.Context, cycleID int32, totalCents int64, participants []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	c.ReceiptTotalCents = nullInt64(totalCents)
	c.ReceiptAt = nullTime(r.tick())
	c.Participants = append([]int64(nil), participants...)
	c.Status = cycle.StatusReceiptPosted
	c.UpdatedAt = r.clock
	byPayer, ok := r.payments[cycleID]
	if !ok {
		byPayer = make(map[int64]*cycle.Payment)
		r.payments[cycleID] = byPayer
	}
	for _, payerID := range participants {
		if _, ok := byPayer[payerID]; ok {
			continue
		}
		r.nextPaymentID++
		byPayer[payerID] = &cycle.Payment{ID: r.nextPaymentID, CycleID: cycleID, PayerID: payerID}
	}
	return nil
}

func (r *fakeCycleRepo) SetPaidStatusMessage(_ context.Context, cycleID int32, messageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	c.PaidStatusMessageID = nullInt64(messageID)
	return nil
}

func (r *fakeCycleRepo) TouchReminder(_ context.Context, cycleID int32, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	c.ReminderSentAt = nullTime(at)
	return nil
}

func (r *fakeCycleRepo) Complete(_ context.Context, cycleID int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	c.Status = cycle.StatusCompleted
	c.ArchivedAt = nullTime(r.tick())
	return nil
}

func (r *fakeCycleRepo) InsertSuggestion(_ context.Context, s *cycle.Suggestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSuggestionID++
	s.ID = r.nextSuggestionID
	s.CreatedAt = r.tick()
	cp := *s
	r.suggestions[s.ID] = &cp
	return nil
}

func (r *fakeCycleRepo) GetSuggestion(_ context.Context, id int32) (*cycle.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("suggestion %d not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeCycleRepo) ListSuggestions(_ context.Context, cycleID int32) ([]*cycle.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*cycle.Suggestion
	for _, s := range r.suggestions {
		if s.CycleID == cycleID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeCycleRepo) SuggesterStats(_ context.Context, cycleID int32, suggesterID int64) (int, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	var latest time.Time
	for _, s := range r.suggestions {
		if s.CycleID == cycleID && s.SuggesterID == suggesterID {
			count++
			if s.CreatedAt.After(latest) {
				latest = s.CreatedAt
			}
		}
	}
	return count, latest, nil
}

func (r *fakeCycleRepo) UpsertPayment(_ context.Context, p *cycle.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPayer, ok := r.payments[p.CycleID]
	if !ok {
		byPayer = make(map[int64]*cycle.Payment)
		r.payments[p.CycleID] = byPayer
	}
	existing, ok := byPayer[p.PayerID]
	if !ok {
		r.nextPaymentID++
		cp := *p
		cp.ID = r.nextPaymentID
		byPayer[p.PayerID] = &cp
		return nil
	}
	existing.PaidAt = p.PaidAt
	existing.OverrideByPurchaser = p.OverrideByPurchaser
	existing.Note = p.Note
	return nil
}

func (r *fakeCycleRepo) ListPayments(_ context.Context, cycleID int32) ([]*cycle.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*cycle.Payment
	for _, p := range r.payments[cycleID] {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayerID < out[j].PayerID })
	return out, nil
}

// --- chat.Client fake ---

type fakeMessage struct {
	ID   int64
	Text string
}

type fakeChat struct {
	mu sync.Mutex

	botID    int64
	venueErr error
	members  map[int64]bool // user -> has view access
	names    map[int64]string

	nextThreadID  int64
	nextMessageID int64

	threads         map[int64][]fakeMessage
	dms             map[int64][]string
	polls           map[int64][]string // poll message ID -> answers
	closedPolls     []int64
	closePollErr    error
	archivedThreads []int64
	deletedThreads  []int64

	venueGate       chan struct{} // when set, VenueReady blocks until closed
	venueReadyCalls int
}

func newFakeChat(botID int64) *fakeChat {
	return &fakeChat{
		botID:   botID,
		members: make(map[int64]bool),
		names:   make(map[int64]string),
		threads: make(map[int64][]fakeMessage),
		dms:     make(map[int64][]string),
		polls:   make(map[int64][]string),
	}
}

func (f *fakeChat) addMember(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = true
	f.names[id] = name
}

func (f *fakeChat) removeMember(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = false
}

func (f *fakeChat) threadMessages(threadID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.threads[threadID]))
	for _, m := range f.threads[threadID] {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeChat) BotID() int64 { return f.botID }

func (f *fakeChat) VenueReady(context.Context) error {
	f.mu.Lock()
	f.venueReadyCalls++
	gate := f.venueGate
	err := f.venueErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeChat) HasViewAccess(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[userID], nil
}

func (f *fakeChat) DisplayName(_ context.Context, userID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.names[userID]; ok {
		return name
	}
	return fmt.Sprintf("%d", userID)
}

func (f *fakeChat) CreateThread(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextThreadID++
	f.threads[f.nextThreadID] = nil
	return f.nextThreadID, nil
}

func (f *fakeChat) SendThreadMessage(_ context.Context, threadID int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMessageID++
	f.threads[threadID] = append(f.threads[threadID], fakeMessage{ID: f.nextMessageID, Text: text})
	return f.nextMessageID, nil
}

func (f *fakeChat) EditThreadMessage(_ context.Context, threadID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.threads[threadID] {
		if m.ID == messageID {
			f.threads[threadID][i].Text = text
			return nil
		}
	}
	return fmt.Errorf("message %d not found in thread %d", messageID, threadID)
}

func (f *fakeChat) ArchiveThread(_ context.Context, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archivedThreads = append(f.archivedThreads, threadID)
	return nil
}

func (f *fakeChat) DeleteThread(_ context.Context, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedThreads = append(f.deletedThreads, threadID)
	return nil
}

func (f *fakeChat) SendDirect(_ context.Context, userID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms[userID] = append(f.dms[userID], text)
	return nil
}

func (f *fakeChat) SendPoll(_ context.Context, threadID int64, question string, answers []string) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMessageID++
	f.polls[f.nextMessageID] = append([]string(nil), answers...)
	return f.nextMessageID, fmt.Sprintf("poll-%d", f.nextMessageID), nil
}

func (f *fakeChat) ClosePoll(_ context.Context, _, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closePollErr != nil {
		return f.closePollErr
	}
	f.closedPolls = append(f.closedPolls, messageID)
	return nil
}

// --- MetaFetcher fake ---

type fakeFetcher struct {
	meta webmeta.Meta
}

func (f *fakeFetcher) Fetch(context.Context, string) webmeta.Meta { return f.meta }
