// Package livestate keeps snapshots of live interviews so an in-progress
// interview survives a process restart. A process that already holds an
// interview in memory does not re-read its snapshot, so a session is served
// by one process at a time.
package livestate

import (
	"context"
	"errors"
	"time"

	"github.com/mockprep/interview-server/internal/store"
)

var (
	ErrInvalidConfig    = errors.New("livestate: invalid configuration")
	ErrInvalidStoreType = errors.New("livestate: invalid store type")
)

// Snapshot is the serializable state of one live interview.
type Snapshot struct {
	SessionID      string          `json:"sessionId"`
	UserID         string          `json:"userId,omitempty"`
	Persisted      bool            `json:"persisted"`
	RoleType       store.RoleType  `json:"roleType"`
	JobDescription string          `json:"jobDescription,omitempty"`
	State          string          `json:"state"`
	Messages       []store.Message `json:"messages"`
	StartedAt      time.Time       `json:"startedAt"`
	EndedAt        *time.Time      `json:"endedAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Store defines the interface for live snapshot storage.
type Store interface {
	// Save creates or replaces the snapshot for snap.SessionID and refreshes its TTL.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns nil if the snapshot is absent or expired (not an error).
	Load(ctx context.Context, sessionID string) (*Snapshot, error)

	Delete(ctx context.Context, sessionID string) error

	Close() error
}

func cloneSnapshot(in *Snapshot) *Snapshot {
	out := *in
	out.Messages = append([]store.Message(nil), in.Messages...)
	if in.EndedAt != nil {
		t := *in.EndedAt
		out.EndedAt = &t
	}
	return &out
}
