package livestate

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreType represents the type of snapshot store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

const defaultTTL = 24 * time.Hour

// StoreOption is a functional option for configuring a snapshot store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	now         func() time.Time
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets how long an untouched snapshot is kept.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithClock overrides the time source of the memory store.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

// NewStore creates a snapshot store of the given type.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{now: time.Now}
	for _, opt := range opts {
		opt(config)
	}
	if config.ttl <= 0 {
		config.ttl = defaultTTL
	}

	switch storeType {
	case StoreTypeMemory, "":
		return &memoryStore{
			snapshots: make(map[string]memoryEntry),
			ttl:       config.ttl,
			now:       config.now,
		}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisStore{
			client: config.redisClient,
			ttl:    config.ttl,
			now:    config.now,
		}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
