package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mockprep/interview-server/internal/llm"
	"github.com/mockprep/interview-server/internal/store"
)

// stepClock advances by step on every read, so consecutive timestamps differ.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// fakeStore is an in-memory TranscriptStore that counts writes and can fail on demand.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.SessionDetails

	createCalls   int
	appendCalls   int
	statusCalls   int
	feedbackCalls int

	failCreate error
	failAppend error
	failStatus error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*store.SessionDetails)}
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls + f.appendCalls + f.statusCalls + f.feedbackCalls
}

func (f *fakeStore) CreateSession(ctx context.Context, userID string, roleType store.RoleType, jobDescription *string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	owner := userID
	s := store.Session{
		ID:             uuid.NewString(),
		UserID:         &owner,
		RoleType:       roleType,
		JobDescription: jobDescription,
		Status:         store.StatusActive,
		StartedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.sessions[s.ID] = &store.SessionDetails{Session: s, Messages: []store.Message{}}
	return &s, nil
}

// seed adds a stored session directly.
func (f *fakeStore) seed(userID string, status store.Status, msgs ...store.Message) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner := userID
	s := store.Session{
		ID:        uuid.NewString(),
		UserID:    &owner,
		RoleType:  store.RoleGeneral,
		Status:    status,
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if status == store.StatusCompleted {
		ended := s.StartedAt.Add(time.Hour)
		s.EndedAt = &ended
	}
	f.sessions[s.ID] = &store.SessionDetails{Session: s, Messages: append([]store.Message{}, msgs...)}
	return s.ID
}

func (f *fakeStore) AppendMessages(ctx context.Context, sessionID string, msgs []store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.failAppend != nil {
		return f.failAppend
	}
	d, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	d.Messages = append(d.Messages, msgs...)
	return nil
}

func (f *fakeStore) SetStatus(ctx context.Context, sessionID string, status store.Status, endedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.failStatus != nil {
		return f.failStatus
	}
	d, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	d.EndedAt = nil
	if status == store.StatusCompleted {
		t := time.Now().UTC()
		if endedAt != nil {
			t = *endedAt
		}
		d.EndedAt = &t
	}
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID, userID string) (*store.SessionDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.sessions[sessionID]
	if !ok || userID == "" || d.UserID == nil || *d.UserID != userID {
		return nil, nil
	}
	cp := *d
	cp.Messages = append([]store.Message{}, d.Messages...)
	return &cp, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, userID string) ([]store.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.SessionSummary{}
	for _, d := range f.sessions {
		if d.UserID != nil && *d.UserID == userID {
			out = append(out, store.SessionSummary{Session: d.Session, MessageCount: len(d.Messages)})
		}
	}
	return out, nil
}

func (f *fakeStore) AttachFeedback(ctx context.Context, sessionID string, feedback *store.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackCalls++
	d, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	feedback.SessionID = sessionID
	d.Feedback = feedback
	return nil
}

func (f *fakeStore) stored(id string) *store.SessionDetails {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// blockingProvider holds calls until release is closed. When mode is set only
// calls of that mode are held.
type blockingProvider struct {
	inner   llm.Provider
	mode    llm.Mode
	started chan struct{}
	release chan struct{}
}

func newBlockingProvider(inner llm.Provider, mode llm.Mode) *blockingProvider {
	return &blockingProvider{inner: inner, mode: mode, started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingProvider) Name() string { return "blocking" }
func (b *blockingProvider) Close() error { return nil }

func (b *blockingProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if b.mode != "" && req.Mode != b.mode {
		return b.inner.Generate(ctx, req)
	}
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return b.inner.Generate(ctx, req)
}

var errStoreDown = errors.New("store unavailable")

func replies(texts ...string) []*llm.Response {
	out := make([]*llm.Response, 0, len(texts))
	for _, t := range texts {
		out = append(out, &llm.Response{Text: t, FinishReason: "stop"})
	}
	return out
}

func testDeps(p llm.Provider, ts TranscriptStore) Deps {
	return Deps{Gateway: NewGateway(p, nil), Store: ts, Now: newStepClock().Now}
}
