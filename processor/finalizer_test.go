package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
	memorystore "github.com/goliatone/go-payhooks/store/memory"
)

func TestExternalLockFinalizer_ReleasesLockAfterCompletion(t *testing.T) {
	ctx := context.Background()
	queue := memorystore.New()
	locks := memorystore.New()
	if _, err := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "lease.signed"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, ok, err := queue.Dequeue(ctx, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if granted, err := locks.Acquire(ctx, "lease:lease_1", "holder", time.Minute); err != nil || !granted {
		t.Fatalf("acquire: granted=%v err=%v", granted, err)
	}

	finalizer, err := NewExternalLockFinalizer(queue, locks, core.Instrumentation{})
	if err != nil {
		t.Fatalf("new finalizer: %v", err)
	}
	recorded, err := finalizer.Complete(ctx, core.CompleteRequest{
		JobID:     job.ID,
		Owner:     "worker-a",
		EventID:   "evt_1",
		EventType: "lease.signed",
		Outcome:   core.OutcomeHandled,
		LockKey:   "lease:lease_1",
		HolderID:  "holder",
	})
	if err != nil || !recorded {
		t.Fatalf("complete: recorded=%v err=%v", recorded, err)
	}
	if _, held := locks.Lock("lease:lease_1"); held {
		t.Fatalf("expected external lock released")
	}
	if processed, _ := queue.IsProcessed(ctx, "evt_1"); !processed {
		t.Fatalf("expected event recorded")
	}
}

type erroringFinalizer struct{}

func (erroringFinalizer) Complete(context.Context, core.CompleteRequest) (bool, error) {
	return false, errors.New("tx aborted")
}

func TestExternalLockFinalizer_KeepsLockWhenCompletionFails(t *testing.T) {
	ctx := context.Background()
	locks := memorystore.New()
	if granted, _ := locks.Acquire(ctx, "lease:lease_1", "holder", time.Minute); !granted {
		t.Fatalf("expected lock granted")
	}
	finalizer, err := NewExternalLockFinalizer(erroringFinalizer{}, locks, core.Instrumentation{})
	if err != nil {
		t.Fatalf("new finalizer: %v", err)
	}
	if _, err := finalizer.Complete(ctx, core.CompleteRequest{LockKey: "lease:lease_1", HolderID: "holder"}); err == nil {
		t.Fatalf("expected completion error")
	}
	if _, held := locks.Lock("lease:lease_1"); !held {
		t.Fatalf("expected lock kept for the processor to release on failure")
	}
}
