package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "payhooks:lock:"

// releaseScript deletes the key only while the caller still holds it.
var releaseScript = goredis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// LockStore implements the lock contract on Redis. Acquire is SET NX PX, so
// an expired holder is displaced by Redis itself.
type LockStore struct {
	client goredis.UniversalClient
	prefix string
}

type Option func(*LockStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *LockStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

func NewLockStore(client goredis.UniversalClient, opts ...Option) (*LockStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &LockStore{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// NewClient builds a client from the redis section of the service config.
func NewClient(cfg core.RedisConfig) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redisstore: redis.addr is required")
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

func (s *LockStore) Acquire(ctx context.Context, key string, holderID string, ttl time.Duration) (bool, error) {
	redisKey, err := s.key(key, holderID)
	if err != nil {
		return false, err
	}
	if ttl < time.Millisecond {
		return false, fmt.Errorf("redisstore: lock ttl must be at least 1ms")
	}
	acquired, err := s.client.SetNX(ctx, redisKey, holderID, ttl).Result()
	if err != nil {
		return false, core.Transient(err, "redisstore: acquire lock "+key)
	}
	return acquired, nil
}

func (s *LockStore) Release(ctx context.Context, key string, holderID string) (bool, error) {
	redisKey, err := s.key(key, holderID)
	if err != nil {
		return false, err
	}
	deleted, err := releaseScript.Run(ctx, s.client, []string{redisKey}, holderID).Int64()
	if err != nil {
		return false, core.Transient(err, "redisstore: release lock "+key)
	}
	return deleted > 0, nil
}

// Holder reports the current holder of key, if any.
func (s *LockStore) Holder(ctx context.Context, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("redisstore: lock key is required")
	}
	holder, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return holder, true, nil
}

func (s *LockStore) key(key string, holderID string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("redisstore: lock store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("redisstore: lock key is required")
	}
	if strings.TrimSpace(holderID) == "" {
		return "", fmt.Errorf("redisstore: holder id is required")
	}
	return s.prefix + key, nil
}

var _ core.LockStore = (*LockStore)(nil)
