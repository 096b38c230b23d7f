package livestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "interview:live:"

// redisStore keeps live snapshots outside the process so they outlive a restart.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func (s *redisStore) Save(ctx context.Context, snap *Snapshot) error {
	snap.UpdatedAt = s.now()
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, keyPrefix+snap.SessionID, val, s.ttl).Err()
}

func (s *redisStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	key := keyPrefix + sessionID
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &snap, nil
}

func (s *redisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
