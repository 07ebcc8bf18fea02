package gocommand

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	payhookscommand "github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	payhooksquery "github.com/goliatone/go-payhooks/query"
	memorystore "github.com/goliatone/go-payhooks/store/memory"
)

func deadLetteredStore(t *testing.T, eventIDs ...string) (*memorystore.Store, []core.QueuedJob) {
	t.Helper()
	ctx := context.Background()
	store := memorystore.New()
	jobs := make([]core.QueuedJob, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		if _, err := store.Enqueue(ctx, core.EnqueueRequest{EventID: eventID, EventType: "invoice.paid", Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("enqueue %s: %v", eventID, err)
		}
		job, ok, err := store.Dequeue(ctx, "worker", time.Minute)
		if err != nil || !ok {
			t.Fatalf("dequeue %s: ok=%v err=%v", eventID, ok, err)
		}
		if err := store.DeadLetter(ctx, job.ID, "worker", core.FailureKindPermanent, "bad payload"); err != nil {
			t.Fatalf("dead letter %s: %v", eventID, err)
		}
		jobs = append(jobs, job)
	}
	return store, jobs
}

func TestOperatorHelpers_ReplayAndInspectDeadLetters(t *testing.T) {
	ctx := context.Background()
	store, jobs := deadLetteredStore(t, "evt_1", "evt_2", "evt_3")

	subs, err := RegisterOperations(NewRegistryAdapter(nil), Operations{DeadLetters: store})
	if err != nil {
		t.Fatalf("register operations: %v", err)
	}
	defer subs.Unsubscribe()

	listed, err := ListDeadLetters(ctx, core.DeadLetterFilter{Limit: 2})
	if err != nil || len(listed) != 2 {
		t.Fatalf("expected two listed dead letters, got %d err=%v", len(listed), err)
	}

	replayed, err := ReplayDeadLetter(ctx, jobs[0].ID)
	if err != nil || replayed.ID != jobs[0].ID || replayed.Status != core.JobStatusPending {
		t.Fatalf("unexpected single replay %+v err=%v", replayed, err)
	}
	if depth, err := DeadLetterDepth(ctx); err != nil || depth != 2 {
		t.Fatalf("expected depth 2 after single replay, got %d err=%v", depth, err)
	}

	batch, err := ReplayDeadLetters(ctx, core.DeadLetterFilter{EventType: "invoice.paid"})
	if err != nil || len(batch.Replayed) != 2 || len(batch.Skipped) != 0 {
		t.Fatalf("unexpected batch replay %+v err=%v", batch, err)
	}
	if depth, err := DeadLetterDepth(ctx); err != nil || depth != 0 {
		t.Fatalf("expected empty dead letter queue, got %d err=%v", depth, err)
	}

	fetched, err := GetJob(ctx, jobs[2].ID)
	if err != nil || fetched.Status != core.JobStatusPending || fetched.AttemptBase != fetched.AttemptCount {
		t.Fatalf("expected replayed job back to pending with a fresh budget, got %+v err=%v", fetched, err)
	}
}

func TestReplayDeadLetter_RejectsMissingJobID(t *testing.T) {
	store, _ := deadLetteredStore(t)
	subs, err := RegisterOperations(NewRegistryAdapter(nil), Operations{DeadLetters: store})
	if err != nil {
		t.Fatalf("register operations: %v", err)
	}
	defer subs.Unsubscribe()

	if _, err := ReplayDeadLetter(context.Background(), " "); err == nil {
		t.Fatalf("expected validation error for blank job id")
	}
}

func TestRegisterOperations_MirrorsReplayCommandsIntoQueue(t *testing.T) {
	ctx := context.Background()
	store, jobs := deadLetteredStore(t, "evt_1")
	queueRegistry := jobqueuecommand.NewRegistry()

	subs, err := RegisterOperations(NewRegistryAdapter(command.NewRegistry()), Operations{
		DeadLetters: store,
		Sweeper:     sweeperFunc(func(context.Context) (core.SweepResult, error) { return core.SweepResult{}, nil }),
		Queue:       queueRegistry,
	})
	if err != nil {
		t.Fatalf("register operations: %v", err)
	}
	defer subs.Unsubscribe()

	for _, messageType := range []string{
		payhookscommand.TypeReplayDeadLetter,
		payhookscommand.TypeReplayDeadLetters,
		payhookscommand.TypeSweep,
	} {
		if _, ok := queueRegistry.Get(messageType); !ok {
			t.Fatalf("expected %s mirrored into the queue registry", messageType)
		}
	}
	for _, messageType := range []string{payhooksquery.TypeGetJob, payhooksquery.TypeDeadLetterDepth} {
		if _, ok := queueRegistry.Get(messageType); ok {
			t.Fatalf("expected query %s to stay out of the queue registry", messageType)
		}
	}

	entry, _ := queueRegistry.Get(payhookscommand.TypeReplayDeadLetter)
	if err := entry.Handler(ctx, map[string]any{"JobID": jobs[0].ID}); err != nil {
		t.Fatalf("queued replay: %v", err)
	}
	job, err := store.GetJob(ctx, jobs[0].ID)
	if err != nil || job.Status != core.JobStatusPending {
		t.Fatalf("expected queued replay to move the job to pending, got %+v err=%v", job, err)
	}
}

func TestMirrorToQueue_RequiresRegistry(t *testing.T) {
	if err := NewRegistryAdapter(nil).MirrorToQueue(nil); err == nil {
		t.Fatalf("expected missing queue registry error")
	}
	var adapter *RegistryAdapter
	if err := adapter.MirrorToQueue(jobqueuecommand.NewRegistry()); err == nil {
		t.Fatalf("expected unconfigured adapter error")
	}
}

type sweeperFunc func(ctx context.Context) (core.SweepResult, error)

func (f sweeperFunc) SweepOnce(ctx context.Context) (core.SweepResult, error) { return f(ctx) }
