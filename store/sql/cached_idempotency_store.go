package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-payhooks/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const processedEventCacheKeyPrefix = "go-payhooks::processed_event::v1"

var errNotProcessed = errors.New("sqlstore: event not processed")

// CachedIdempotencyStore puts a read-through cache in front of IsProcessed.
// Only positive answers are cached: a processed event never becomes
// unprocessed, while a negative answer can flip at any moment.
type CachedIdempotencyStore struct {
	base  core.IdempotencyStore
	cache repositorycache.CacheService
}

func NewCachedIdempotencyStore(
	base core.IdempotencyStore,
	cacheService repositorycache.CacheService,
) (*CachedIdempotencyStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base idempotency store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: idempotency cache service is required")
	}
	return &CachedIdempotencyStore{base: base, cache: cacheService}, nil
}

// ProcessedEventCacheKey returns go-payhooks::processed_event::v1::<event_id>
// with the event id URL-path escaped.
func ProcessedEventCacheKey(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("sqlstore: event id is required")
	}
	return processedEventCacheKeyPrefix + "::" + url.PathEscape(eventID), nil
}

func (s *CachedIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	cacheKey, err := ProcessedEventCacheKey(eventID)
	if err != nil {
		return false, err
	}
	processed, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (bool, error) {
		ok, fetchErr := s.base.IsProcessed(ctx, eventID)
		if fetchErr != nil {
			return false, fetchErr
		}
		if !ok {
			return false, errNotProcessed
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, errNotProcessed) {
			return false, nil
		}
		return false, err
	}
	return processed, nil
}

func (s *CachedIdempotencyStore) RecordEvent(ctx context.Context, eventID string, eventType string) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	return s.base.RecordEvent(ctx, eventID, eventType)
}

// Forget drops a cached answer, used after retention purges the row.
func (s *CachedIdempotencyStore) Forget(ctx context.Context, eventID string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached idempotency store is not configured")
	}
	cacheKey, err := ProcessedEventCacheKey(eventID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
