package core

import (
	"time"

	"github.com/mockprep/interview-server/internal/store"
)

type EventType string

const (
	EventMessage         EventType = "message"
	EventCompleted       EventType = "completed"
	EventSelfPlayStarted EventType = "selfplay_started"
	EventSelfPlayStopped EventType = "selfplay_stopped"
	EventFeedback        EventType = "feedback"
)

// Event is a notification about one interview, pushed to subscribers of that session.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	Message   *store.Message  `json:"message,omitempty"`
	Feedback  *store.Feedback `json:"feedback,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// EventSink receives interview events. Publish must not block on slow consumers.
type EventSink interface {
	Publish(event Event)
}
