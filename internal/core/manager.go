package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mockprep/interview-server/internal/store"
)

type liveInterview struct {
	iv       *Interview
	selfPlay *SelfPlayDriver
}

// SessionManager owns the live interviews of this process. Interviews are
// independent: no lock is shared between sessions.
type SessionManager struct {
	deps          Deps
	feedback      *FeedbackService
	selfPlayDelay time.Duration

	live  sync.Map // session id -> *liveInterview
	locks sync.Map // session id -> *sync.Mutex, held while loading or retiring
}

func NewSessionManager(deps Deps, feedback *FeedbackService, selfPlayDelay time.Duration) *SessionManager {
	return &SessionManager{deps: deps, feedback: feedback, selfPlayDelay: selfPlayDelay}
}

// StartInterview creates an interview and runs its opening turn.
func (m *SessionManager) StartInterview(ctx context.Context, userID string, cfg InterviewConfig) (*Interview, *TurnResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	iv := NewInterview(m.deps, userID, cfg)
	res, err := iv.Start(ctx)
	if err != nil {
		// Keep a persisted-but-unopened session reachable so the client can retry.
		if iv.Persisted() {
			m.track(iv)
		}
		return iv, nil, err
	}
	m.track(iv)
	return iv, res, nil
}

func (m *SessionManager) track(iv *Interview) *liveInterview {
	li := &liveInterview{iv: iv, selfPlay: NewSelfPlayDriver(iv, m.deps.Gateway, m.deps.Events, m.selfPlayDelay)}
	actual, _ := m.live.LoadOrStore(iv.ID(), li)
	return actual.(*liveInterview)
}

// Get returns the live interview for id, rehydrating it from the live-state
// store or the Transcript Store when it is not in memory. Interviews owned by
// another user are reported as ErrSessionNotFound.
func (m *SessionManager) Get(ctx context.Context, id, userID string) (*Interview, error) {
	li, err := m.lookup(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return li.iv, nil
}

func (m *SessionManager) lookup(ctx context.Context, id, userID string) (*liveInterview, error) {
	if li, ok := m.loadLive(id); ok {
		if !owns(li.iv, userID) {
			return nil, ErrSessionNotFound
		}
		return li, nil
	}

	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	// Another request may have loaded it while we waited.
	if li, ok := m.loadLive(id); ok {
		if !owns(li.iv, userID) {
			return nil, ErrSessionNotFound
		}
		return li, nil
	}

	if m.deps.Snapshots != nil {
		snap, err := m.deps.Snapshots.Load(ctx, id)
		if err != nil {
			log.Printf("WARN: failed to load live snapshot for session %s: %v", id, err)
		} else if snap != nil {
			iv := RestoreInterview(m.deps, snap)
			if !owns(iv, userID) {
				return nil, ErrSessionNotFound
			}
			return m.track(iv), nil
		}
	}

	if userID == "" || m.deps.Store == nil {
		return nil, ErrSessionNotFound
	}
	details, err := m.deps.Store.GetSession(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if details == nil {
		return nil, ErrSessionNotFound
	}
	return m.track(RestoreFromStore(m.deps, userID, details)), nil
}

func (m *SessionManager) loadLive(id string) (*liveInterview, bool) {
	v, ok := m.live.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*liveInterview), true
}

func (m *SessionManager) sessionLock(id string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func owns(iv *Interview, userID string) bool {
	return iv.UserID() == "" || iv.UserID() == userID
}

// SubmitTurn forwards a candidate message to the interview's state machine.
func (m *SessionManager) SubmitTurn(ctx context.Context, id, userID, content string) (*TurnResult, error) {
	return m.runTurn(ctx, id, userID, func(iv *Interview) (*TurnResult, error) {
		return iv.SubmitTurn(ctx, content)
	})
}

// ResumeInterview runs the opening turn of a session whose first Start failed.
func (m *SessionManager) ResumeInterview(ctx context.Context, id, userID string) (*TurnResult, error) {
	return m.runTurn(ctx, id, userID, func(iv *Interview) (*TurnResult, error) {
		return iv.Start(ctx)
	})
}

// runTurn applies turn to the live interview. A copy retired between lookup
// and turn is looked up once more.
func (m *SessionManager) runTurn(ctx context.Context, id, userID string, turn func(*Interview) (*TurnResult, error)) (*TurnResult, error) {
	for attempt := 0; ; attempt++ {
		iv, err := m.Get(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		res, err := turn(iv)
		if errors.Is(err, ErrInterviewClosed) && attempt == 0 {
			continue
		}
		return res, err
	}
}

func (m *SessionManager) StartSelfPlay(ctx context.Context, id, userID string) (SelfPlayStatus, error) {
	li, err := m.lookup(ctx, id, userID)
	if err != nil {
		return SelfPlayStatus{}, err
	}
	if err := li.selfPlay.Start(); err != nil {
		return li.selfPlay.Status(), err
	}
	return li.selfPlay.Status(), nil
}

func (m *SessionManager) StopSelfPlay(ctx context.Context, id, userID string) (SelfPlayStatus, error) {
	li, err := m.lookup(ctx, id, userID)
	if err != nil {
		return SelfPlayStatus{}, err
	}
	li.selfPlay.Stop()
	return li.selfPlay.Status(), nil
}

func (m *SessionManager) SelfPlayStatus(ctx context.Context, id, userID string) (SelfPlayStatus, error) {
	li, err := m.lookup(ctx, id, userID)
	if err != nil {
		return SelfPlayStatus{}, err
	}
	return li.selfPlay.Status(), nil
}

// GenerateFeedback runs the feedback pipeline over the live transcript. The
// result is stored when the interview is persisted and owned by userID.
func (m *SessionManager) GenerateFeedback(ctx context.Context, id, userID string) (*store.Feedback, error) {
	iv, err := m.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	req := FeedbackRequest{
		Config:    iv.Config(),
		History:   iv.Transcript(),
		SessionID: iv.ID(),
	}
	if iv.Persisted() {
		req.UserID = iv.UserID()
	}
	return m.feedback.Generate(ctx, req)
}

// Shutdown stops every running self-play loop and waits for them to exit.
func (m *SessionManager) Shutdown() {
	var drivers []*SelfPlayDriver
	m.live.Range(func(_, v any) bool {
		li := v.(*liveInterview)
		li.selfPlay.Stop()
		drivers = append(drivers, li.selfPlay)
		return true
	})
	for _, d := range drivers {
		d.Wait()
	}
}

// Forget drops the live copy of a session so the next access rehydrates from
// the Transcript Store.
func (m *SessionManager) Forget(ctx context.Context, id string) {
	_ = m.Retire(ctx, id, nil)
}

// Retire takes the live copy of a session out of service and then runs write,
// if any, while no new copy can be loaded. Self-play and any turn in flight
// finish before write runs; the live snapshot is dropped afterwards so the next
// access rehydrates from the Transcript Store.
func (m *SessionManager) Retire(ctx context.Context, id string, write func() error) error {
	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	if v, ok := m.live.LoadAndDelete(id); ok {
		li := v.(*liveInterview)
		li.selfPlay.Stop()
		li.selfPlay.Wait()
		li.iv.Close()
	}

	var err error
	if write != nil {
		err = write()
	}

	if m.deps.Snapshots != nil {
		if derr := m.deps.Snapshots.Delete(context.WithoutCancel(ctx), id); derr != nil {
			log.Printf("WARN: failed to drop live snapshot for session %s: %v", id, derr)
		}
	}
	return err
}
