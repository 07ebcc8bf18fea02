package gocommand

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	payhookscommand "github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	payhooksquery "github.com/goliatone/go-payhooks/query"
	memorystore "github.com/goliatone/go-payhooks/store/memory"
)

func TestRegisterOperations_DispatchesReplayAndQueries(t *testing.T) {
	ctx := context.Background()
	store := memorystore.New()
	if _, err := store.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "invoice.paid", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, ok, err := store.Dequeue(ctx, "worker", time.Minute)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if err := store.DeadLetter(ctx, job.ID, "worker", core.FailureKindPermanent, "bad payload"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := RegisterOperations(adapter, Operations{DeadLetters: store})
	if err != nil {
		t.Fatalf("register operations: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 5 {
		t.Fatalf("expected five subscriptions without a sweeper, got %d", len(subs))
	}

	depth, err := Query[payhooksquery.DeadLetterDepthMessage, int](ctx, payhooksquery.DeadLetterDepthMessage{})
	if err != nil || depth != 1 {
		t.Fatalf("expected depth 1, got %d err=%v", depth, err)
	}

	collector := command.NewResult[core.QueuedJob]()
	if err := Dispatch(command.ContextWithResult(ctx, collector), payhookscommand.ReplayDeadLetterMessage{JobID: job.ID}); err != nil {
		t.Fatalf("dispatch replay: %v", err)
	}
	replayed, ok := collector.Load()
	if !ok || replayed.Status != core.JobStatusPending {
		t.Fatalf("expected replayed job in result, got %+v ok=%v", replayed, ok)
	}

	fetched, err := Query[payhooksquery.GetJobMessage, core.QueuedJob](ctx, payhooksquery.GetJobMessage{JobID: job.ID})
	if err != nil || fetched.ID != job.ID || fetched.Status != core.JobStatusPending {
		t.Fatalf("unexpected fetched job %+v err=%v", fetched, err)
	}
}

func TestRegisterOperations_RequiresDeadLetterQueue(t *testing.T) {
	if _, err := RegisterOperations(NewRegistryAdapter(nil), Operations{}); err == nil {
		t.Fatalf("expected missing dead letter queue error")
	}
}
