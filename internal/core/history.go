package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/mockprep/interview-server/internal/store"
)

// HistoryService exposes a user's stored sessions.
type HistoryService struct {
	store   TranscriptStore
	manager *SessionManager
}

func NewHistoryService(transcripts TranscriptStore, manager *SessionManager) *HistoryService {
	return &HistoryService{store: transcripts, manager: manager}
}

// List returns the user's sessions, newest first.
func (s *HistoryService) List(ctx context.Context, userID string) ([]store.SessionSummary, error) {
	return s.store.ListSessions(ctx, userID)
}

// Get returns the full transcript and feedback of a session the user owns.
func (s *HistoryService) Get(ctx context.Context, id, userID string) (*store.SessionDetails, error) {
	details, err := s.store.GetSession(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, ErrSessionNotFound
	}
	return details, nil
}

// SetStatus changes a stored session's status. Completing stamps ended-at,
// reactivating clears it.
func (s *HistoryService) SetStatus(ctx context.Context, id, userID string, status store.Status) (*store.Session, error) {
	if !status.Valid() {
		return nil, newValidationError("status", fmt.Sprintf("status must be %q or %q", store.StatusActive, store.StatusCompleted))
	}
	if _, err := s.Get(ctx, id, userID); err != nil {
		return nil, err
	}
	write := func() error {
		return s.store.SetStatus(ctx, id, status, nil)
	}
	var err error
	if s.manager != nil {
		// The live copy is retired first so no turn can land after the write.
		err = s.manager.Retire(ctx, id, write)
	} else {
		err = write()
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	details, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return &details.Session, nil
}
