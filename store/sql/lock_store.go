package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const acquireLockQuery = `
INSERT INTO webhook_locks (lock_key, holder_id, acquired_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (lock_key) DO UPDATE
SET holder_id = excluded.holder_id,
	acquired_at = excluded.acquired_at,
	expires_at = excluded.expires_at
WHERE webhook_locks.expires_at <= excluded.acquired_at
`

// LockStore implements the aggregate lock contract on webhook_locks. An
// acquire is a single conditional upsert that only takes over expired rows.
type LockStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewLockStore(db *bun.DB) (*LockStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &LockStore{db: db, now: utcNow}, nil
}

func (s *LockStore) Acquire(ctx context.Context, key string, holderID string, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: lock store is not configured")
	}
	key = strings.TrimSpace(key)
	holderID = strings.TrimSpace(holderID)
	if key == "" || holderID == "" {
		return false, fmt.Errorf("sqlstore: lock key and holder id are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("sqlstore: lock ttl must be positive")
	}
	now := s.now().UTC()
	res, err := s.db.NewRaw(acquireLockQuery, key, holderID, now, now.Add(ttl)).Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *LockStore) Release(ctx context.Context, key string, holderID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: lock store is not configured")
	}
	return releaseLock(ctx, s.db, key, holderID)
}

// Get returns the current lock row, live or expired.
func (s *LockStore) Get(ctx context.Context, key string) (lockRecord, bool, error) {
	if s == nil || s.db == nil {
		return lockRecord{}, false, fmt.Errorf("sqlstore: lock store is not configured")
	}
	records := []lockRecord{}
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.lock_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx); err != nil {
		return lockRecord{}, false, err
	}
	if len(records) == 0 {
		return lockRecord{}, false, nil
	}
	return records[0], true, nil
}

func releaseLock(ctx context.Context, db bun.IDB, key string, holderID string) (bool, error) {
	key = strings.TrimSpace(key)
	holderID = strings.TrimSpace(holderID)
	if key == "" || holderID == "" {
		return false, nil
	}
	res, err := db.NewDelete().
		Model((*lockRecord)(nil)).
		Where("lock_key = ?", key).
		Where("holder_id = ?", holderID).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
