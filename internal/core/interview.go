package core

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mockprep/interview-server/internal/livestate"
	"github.com/mockprep/interview-server/internal/store"
)

// TranscriptStore is the durable record of sessions, messages and feedback.
// Reads return (nil, nil) when the session is missing or owned by someone else.
type TranscriptStore interface {
	CreateSession(ctx context.Context, userID string, roleType store.RoleType, jobDescription *string) (*store.Session, error)
	AppendMessages(ctx context.Context, sessionID string, msgs []store.Message) error
	SetStatus(ctx context.Context, sessionID string, status store.Status, endedAt *time.Time) error
	GetSession(ctx context.Context, sessionID, userID string) (*store.SessionDetails, error)
	ListSessions(ctx context.Context, userID string) ([]store.SessionSummary, error)
	AttachFeedback(ctx context.Context, sessionID string, feedback *store.Feedback) error
}

// State is the lifecycle position of an Interview.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateCompleted     State = "completed"
)

// Deps are the collaborators shared by every interview.
type Deps struct {
	Gateway   *Gateway
	Store     TranscriptStore  // nil disables persistence
	Events    EventSink        // optional
	Snapshots livestate.Store  // optional
	Now       func() time.Time // defaults to time.Now
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// TurnResult is the interviewer message produced by Start or SubmitTurn.
type TurnResult struct {
	Message    store.Message `json:"message"`
	IsComplete bool          `json:"isComplete"`
	Status     store.Status  `json:"status"`
}

// Interview is the Session State Machine for one interview. Turns are
// processed one at a time; readers never wait on an in-flight generation.
type Interview struct {
	deps Deps

	// turnMu serializes Start and SubmitTurn for this interview.
	turnMu sync.Mutex

	mu        sync.RWMutex
	id        string
	userID    string
	persisted bool
	cfg       InterviewConfig
	state     State
	messages  []store.Message
	startedAt time.Time
	endedAt   *time.Time
	// closed is set once the session manager has retired this copy.
	closed bool
}

// NewInterview returns an uninitialized interview for userID ("" is anonymous).
func NewInterview(deps Deps, userID string, cfg InterviewConfig) *Interview {
	if cfg.RoleType == "" {
		cfg.RoleType = store.RoleGeneral
	}
	cfg.JobDescription = strings.TrimSpace(cfg.JobDescription)
	return &Interview{
		deps:   deps,
		id:     uuid.NewString(),
		userID: userID,
		cfg:    cfg,
		state:  StateUninitialized,
	}
}

// RestoreInterview rebuilds an interview from a live snapshot.
func RestoreInterview(deps Deps, snap *livestate.Snapshot) *Interview {
	iv := &Interview{
		deps:      deps,
		id:        snap.SessionID,
		userID:    snap.UserID,
		persisted: snap.Persisted,
		cfg:       InterviewConfig{RoleType: snap.RoleType, JobDescription: snap.JobDescription},
		state:     State(snap.State),
		messages:  append([]store.Message(nil), snap.Messages...),
		startedAt: snap.StartedAt,
		endedAt:   snap.EndedAt,
	}
	switch iv.state {
	case StateActive, StateCompleted, StateUninitialized:
	default:
		iv.state = stateFromTranscript(iv.messages, iv.endedAt != nil)
	}
	return iv
}

// RestoreFromStore rebuilds an interview from a persisted session.
func RestoreFromStore(deps Deps, userID string, details *store.SessionDetails) *Interview {
	cfg := InterviewConfig{RoleType: details.RoleType}
	if details.JobDescription != nil {
		cfg.JobDescription = *details.JobDescription
	}
	iv := &Interview{
		deps:      deps,
		id:        details.ID,
		userID:    userID,
		persisted: true,
		cfg:       cfg,
		messages:  append([]store.Message(nil), details.Messages...),
		startedAt: details.StartedAt,
		endedAt:   details.EndedAt,
	}
	iv.state = stateFromTranscript(iv.messages, details.Status == store.StatusCompleted)
	if iv.state == StateCompleted && iv.endedAt == nil {
		t := deps.now()
		iv.endedAt = &t
	}
	return iv
}

func stateFromTranscript(messages []store.Message, completed bool) State {
	switch {
	case completed:
		return StateCompleted
	case len(messages) == 0:
		return StateUninitialized
	default:
		return StateActive
	}
}

func (iv *Interview) ID() string {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.id
}

func (iv *Interview) UserID() string { return iv.userID }

func (iv *Interview) Config() InterviewConfig { return iv.cfg }

func (iv *Interview) State() State {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.state
}

// Persisted reports whether the interview is backed by a Transcript Store session.
func (iv *Interview) Persisted() bool {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.persisted
}

// Status maps the lifecycle state onto the stored session status.
func (iv *Interview) Status() store.Status {
	if iv.State() == StateCompleted {
		return store.StatusCompleted
	}
	return store.StatusActive
}

func (iv *Interview) EndedAt() *time.Time {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.endedAt
}

// Transcript returns a copy of the messages in conversation order.
func (iv *Interview) Transcript() []store.Message {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return append([]store.Message(nil), iv.messages...)
}

// Session describes the interview in the shape of a stored session.
func (iv *Interview) Session() store.Session {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	s := store.Session{
		ID:        iv.id,
		RoleType:  iv.cfg.RoleType,
		Status:    store.StatusActive,
		StartedAt: iv.startedAt,
		EndedAt:   iv.endedAt,
	}
	if iv.state == StateCompleted {
		s.Status = store.StatusCompleted
	}
	if iv.userID != "" {
		userID := iv.userID
		s.UserID = &userID
	}
	if iv.cfg.JobDescription != "" {
		jd := iv.cfg.JobDescription
		s.JobDescription = &jd
	}
	return s
}

// Snapshot captures the interview for the live-state store.
func (iv *Interview) Snapshot() *livestate.Snapshot {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return &livestate.Snapshot{
		SessionID:      iv.id,
		UserID:         iv.userID,
		Persisted:      iv.persisted,
		RoleType:       iv.cfg.RoleType,
		JobDescription: iv.cfg.JobDescription,
		State:          string(iv.state),
		Messages:       append([]store.Message(nil), iv.messages...),
		StartedAt:      iv.startedAt,
		EndedAt:        iv.endedAt,
	}
}

// Start moves the interview from uninitialized to active. For an identified
// user it first creates the stored session; if that fails the interview
// continues unpersisted. When the opening generation fails the interview stays
// uninitialized and Start may be called again.
func (iv *Interview) Start(ctx context.Context) (*TurnResult, error) {
	iv.turnMu.Lock()
	defer iv.turnMu.Unlock()

	if iv.isClosed() {
		return nil, ErrInterviewClosed
	}
	if iv.State() != StateUninitialized {
		return nil, ErrAlreadyStarted
	}
	if !iv.cfg.RoleType.Valid() {
		return nil, newValidationError("roleType", "unknown role type "+string(iv.cfg.RoleType))
	}

	ctx, span := iv.deps.Gateway.tracer.Start(ctx, "interview.start")
	defer span.End()

	iv.ensureSession(ctx)

	reply, err := iv.deps.Gateway.InterviewerTurn(ctx, iv.cfg, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "opening turn failed")
		return nil, err
	}

	opening := iv.newMessage(store.SenderAssistant, reply.Text)

	iv.mu.Lock()
	iv.messages = append(iv.messages, opening)
	iv.state = StateActive
	if iv.startedAt.IsZero() {
		iv.startedAt = opening.Timestamp
	}
	if reply.IsComplete {
		iv.complete(opening.Timestamp)
	}
	iv.mu.Unlock()

	iv.afterTurn(ctx, []store.Message{opening}, reply.IsComplete)
	return &TurnResult{Message: opening, IsComplete: reply.IsComplete, Status: iv.Status()}, nil
}

func (iv *Interview) ensureSession(ctx context.Context) {
	iv.mu.RLock()
	skip := iv.persisted || iv.userID == "" || iv.deps.Store == nil
	iv.mu.RUnlock()
	if skip {
		return
	}

	var jd *string
	if iv.cfg.JobDescription != "" {
		jd = &iv.cfg.JobDescription
	}
	session, err := iv.deps.Store.CreateSession(ctx, iv.userID, iv.cfg.RoleType, jd)
	if err != nil {
		log.Printf("WARN: failed to create session for user %s, continuing unpersisted: %v", iv.userID, err)
		return
	}

	iv.mu.Lock()
	iv.id = session.ID
	iv.persisted = true
	iv.startedAt = session.StartedAt
	iv.mu.Unlock()
}

// SubmitTurn records a candidate message and generates the interviewer's
// reply from the full history. Nothing is recorded when generation fails.
func (iv *Interview) SubmitTurn(ctx context.Context, content string) (*TurnResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, newValidationError("content", "message content is required")
	}

	iv.turnMu.Lock()
	defer iv.turnMu.Unlock()

	if iv.isClosed() {
		return nil, ErrInterviewClosed
	}
	switch iv.State() {
	case StateUninitialized:
		return nil, ErrNotStarted
	case StateCompleted:
		return nil, ErrSessionCompleted
	}
	if err := iv.checkStoredStatus(ctx); err != nil {
		return nil, err
	}

	ctx, span := iv.deps.Gateway.tracer.Start(ctx, "interview.turn", trace.WithAttributes(
		attribute.String("interview.id", iv.ID()),
		attribute.String("interview.role_type", string(iv.cfg.RoleType)),
	))
	defer span.End()

	candidate := iv.newMessage(store.SenderUser, content)
	history := append(iv.Transcript(), candidate)

	reply, err := iv.deps.Gateway.InterviewerTurn(ctx, iv.cfg, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "interviewer turn failed")
		return nil, err
	}

	interviewer := iv.newMessage(store.SenderAssistant, reply.Text)
	if interviewer.Timestamp.Before(candidate.Timestamp) {
		interviewer.Timestamp = candidate.Timestamp
	}

	iv.mu.Lock()
	iv.messages = append(iv.messages, candidate, interviewer)
	if reply.IsComplete {
		iv.complete(interviewer.Timestamp)
	}
	iv.mu.Unlock()

	span.SetAttributes(attribute.Bool("interview.complete", reply.IsComplete))
	iv.afterTurn(ctx, []store.Message{candidate, interviewer}, reply.IsComplete)
	return &TurnResult{Message: interviewer, IsComplete: reply.IsComplete, Status: iv.Status()}, nil
}

// Close waits for any turn in flight and then refuses further turns. The
// caller must drop every reference it hands out for this copy.
func (iv *Interview) Close() {
	iv.turnMu.Lock()
	defer iv.turnMu.Unlock()
	iv.mu.Lock()
	iv.closed = true
	iv.mu.Unlock()
}

func (iv *Interview) isClosed() bool {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.closed
}

// checkStoredStatus adopts a completion that another path wrote to the
// Transcript Store. A store that cannot be read does not block the turn.
func (iv *Interview) checkStoredStatus(ctx context.Context) error {
	if !iv.Persisted() || iv.deps.Store == nil {
		return nil
	}
	id := iv.ID()
	details, err := iv.deps.Store.GetSession(ctx, id, iv.userID)
	if err != nil {
		log.Printf("WARN: failed to read stored status of session %s: %v", id, err)
		return nil
	}
	if details == nil || details.Status != store.StatusCompleted {
		return nil
	}

	iv.mu.Lock()
	iv.state = StateCompleted
	if details.EndedAt != nil {
		ended := *details.EndedAt
		iv.endedAt = &ended
	} else if iv.endedAt == nil {
		ended := iv.deps.now().UTC()
		iv.endedAt = &ended
	}
	iv.mu.Unlock()

	iv.saveSnapshot(context.WithoutCancel(ctx))
	return ErrSessionCompleted
}

// complete must be called with mu held.
func (iv *Interview) complete(at time.Time) {
	iv.state = StateCompleted
	ended := at
	iv.endedAt = &ended
}

func (iv *Interview) newMessage(role, content string) store.Message {
	now := iv.deps.now().UTC()
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	// Timestamps never go backwards within a transcript.
	if n := len(iv.messages); n > 0 && now.Before(iv.messages[n-1].Timestamp) {
		now = iv.messages[n-1].Timestamp
	}
	return store.Message{
		ID:        uuid.NewString(),
		SessionID: iv.id,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
}

// afterTurn runs the side effects of a committed transition. Failures are
// logged; they never undo the in-memory transcript.
func (iv *Interview) afterTurn(ctx context.Context, msgs []store.Message, completed bool) {
	ctx = context.WithoutCancel(ctx)
	id := iv.ID()

	if iv.Persisted() && iv.deps.Store != nil {
		if err := iv.deps.Store.AppendMessages(ctx, id, append([]store.Message(nil), msgs...)); err != nil {
			log.Printf("WARN: failed to persist %d messages for session %s: %v", len(msgs), id, err)
		}
		if completed {
			if err := iv.deps.Store.SetStatus(ctx, id, store.StatusCompleted, iv.EndedAt()); err != nil {
				log.Printf("WARN: failed to mark session %s completed: %v", id, err)
			}
		}
	}

	iv.saveSnapshot(ctx)

	if iv.deps.Events != nil {
		for i := range msgs {
			iv.deps.Events.Publish(Event{Type: EventMessage, SessionID: id, Message: &msgs[i], At: msgs[i].Timestamp})
		}
		if completed {
			iv.deps.Events.Publish(Event{Type: EventCompleted, SessionID: id, At: iv.deps.now().UTC()})
		}
	}
}

func (iv *Interview) saveSnapshot(ctx context.Context) {
	if iv.deps.Snapshots == nil {
		return
	}
	snap := iv.Snapshot()
	if err := iv.deps.Snapshots.Save(ctx, snap); err != nil {
		log.Printf("WARN: failed to save live snapshot for session %s: %v", snap.SessionID, err)
	}
}
