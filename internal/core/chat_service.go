package core

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/mockprep/interview-server/internal/livestate"
	"github.com/mockprep/interview-server/internal/store"
)

// ChatService serves clients that hold the conversation themselves and send
// the full history with every request. Each call rehydrates a short-lived
// Interview, so turns still go through the state machine.
type ChatService struct {
	deps     Deps
	feedback *FeedbackService
	sessions *SessionManager
}

// NewChatService builds the client-held history path. sessions, when set, is
// the manager holding live copies of the same stored sessions.
func NewChatService(deps Deps, feedback *FeedbackService, sessions *SessionManager) *ChatService {
	// Client-held interviews are not live: nothing to snapshot.
	deps.Snapshots = nil
	return &ChatService{deps: deps, feedback: feedback, sessions: sessions}
}

// ChatRequest carries a client-held transcript. When SessionID names a
// session owned by UserID the latest exchange is also stored.
type ChatRequest struct {
	Messages  []store.Message
	Config    InterviewConfig
	SessionID string
	UserID    string
}

// Reply produces the next interviewer message. An empty history yields the
// opening message; otherwise the last message must be the candidate's.
func (s *ChatService) Reply(ctx context.Context, req ChatRequest) (*TurnResult, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	history, err := normalizeHistory(req.Messages)
	if err != nil {
		return nil, err
	}
	if n := len(history); n > 0 && history[n-1].Role != store.SenderUser {
		return nil, newValidationError("messages", "the last message must be the candidate's")
	}

	snap, err := s.attachSession(ctx, req)
	if err != nil {
		return nil, err
	}
	if !snap.Persisted || s.sessions == nil {
		return s.turn(ctx, snap, history)
	}

	// The stored session may also be live in the manager. Its copy is retired
	// so both paths never write the same session at once.
	var res *TurnResult
	err = s.sessions.Retire(ctx, snap.SessionID, func() error {
		snap, err := s.attachSession(ctx, req)
		if err != nil {
			return err
		}
		res, err = s.turn(ctx, snap, history)
		return err
	})
	return res, err
}

func (s *ChatService) turn(ctx context.Context, snap *livestate.Snapshot, history []store.Message) (*TurnResult, error) {
	if len(history) == 0 {
		snap.State = string(StateUninitialized)
		return RestoreInterview(s.deps, snap).Start(ctx)
	}
	last := history[len(history)-1]
	snap.State = string(StateActive)
	snap.Messages = history[:len(history)-1]
	return RestoreInterview(s.deps, snap).SubmitTurn(ctx, last.Content)
}

// attachSession builds the snapshot for a chat turn, pointing it at the stored
// session when the caller owns it. A stored session that is already completed
// rejects the turn.
func (s *ChatService) attachSession(ctx context.Context, req ChatRequest) (*livestate.Snapshot, error) {
	snap := &livestate.Snapshot{
		SessionID:      uuid.NewString(),
		RoleType:       req.Config.RoleType,
		JobDescription: req.Config.JobDescription,
	}
	if req.SessionID == "" || req.UserID == "" || s.deps.Store == nil {
		return snap, nil
	}
	details, err := s.deps.Store.GetSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		log.Printf("WARN: failed to look up session %s, reply will not be stored: %v", req.SessionID, err)
		return snap, nil
	}
	if details == nil {
		log.Printf("WARN: session %s not found for user %s, reply will not be stored", req.SessionID, req.UserID)
		return snap, nil
	}
	if details.Status == store.StatusCompleted {
		return nil, ErrSessionCompleted
	}
	snap.SessionID = details.ID
	snap.UserID = req.UserID
	snap.Persisted = true
	snap.StartedAt = details.StartedAt
	return snap, nil
}

// CandidateReply generates a self-play candidate answer to the latest
// interviewer message.
func (s *ChatService) CandidateReply(ctx context.Context, messages []store.Message, cfg InterviewConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	history, err := normalizeHistory(messages)
	if err != nil {
		return "", err
	}
	return s.deps.Gateway.CandidateTurn(ctx, cfg, history)
}

// Feedback analyses a client-held transcript.
func (s *ChatService) Feedback(ctx context.Context, req FeedbackRequest) (*store.Feedback, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	history, err := normalizeHistory(req.History)
	if err != nil {
		return nil, err
	}
	req.History = history
	return s.feedback.Generate(ctx, req)
}

func normalizeHistory(in []store.Message) ([]store.Message, error) {
	out := make([]store.Message, 0, len(in))
	for _, m := range in {
		if m.Role != store.SenderAssistant && m.Role != store.SenderUser {
			return nil, newValidationError("messages", "message role must be assistant or user")
		}
		m.Content = strings.TrimSpace(m.Content)
		out = append(out, m)
	}
	return out, nil
}
