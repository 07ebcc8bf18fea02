package processor

import (
	"context"
	"fmt"

	"github.com/goliatone/go-payhooks/core"
)

// ExternalLockFinalizer completes jobs whose aggregate locks live outside the
// finalizer's transaction, such as Redis locks paired with a SQL queue. The
// durable completion commits first; the lock is released afterwards and a
// failed release is left to expire with its TTL.
type ExternalLockFinalizer struct {
	finalizer core.Finalizer
	locks     core.LockStore
	instr     core.Instrumentation
}

func NewExternalLockFinalizer(finalizer core.Finalizer, locks core.LockStore, instr core.Instrumentation) (*ExternalLockFinalizer, error) {
	if finalizer == nil {
		return nil, fmt.Errorf("processor: finalizer is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("processor: lock store is required")
	}
	return &ExternalLockFinalizer{finalizer: finalizer, locks: locks, instr: instr}, nil
}

func (f *ExternalLockFinalizer) Complete(ctx context.Context, req core.CompleteRequest) (bool, error) {
	lockKey, holderID := req.LockKey, req.HolderID
	req.LockKey, req.HolderID = "", ""
	recorded, err := f.finalizer.Complete(ctx, req)
	if err != nil {
		return false, err
	}
	if lockKey == "" {
		return recorded, nil
	}
	if _, err := f.locks.Release(ctx, lockKey, holderID); err != nil {
		f.instr.Warn(ctx, "webhook external lock release failed, waiting for ttl", map[string]any{
			"job_id":   req.JobID,
			"event_id": req.EventID,
			"lock_key": lockKey,
			"error":    err.Error(),
		})
	}
	return recorded, nil
}

var _ core.Finalizer = (*ExternalLockFinalizer)(nil)
