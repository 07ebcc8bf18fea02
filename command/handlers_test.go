package command

import (
	"context"
	"errors"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-payhooks/core"
	memorystore "github.com/goliatone/go-payhooks/store/memory"
)

func deadLetter(t *testing.T, store *memorystore.Store, eventID string, eventType string) core.QueuedJob {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, core.EnqueueRequest{EventID: eventID, EventType: eventType, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, ok, err := store.Dequeue(ctx, "worker", time.Minute)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if err := store.DeadLetter(ctx, job.ID, "worker", core.FailureKindPermanent, "bad payload"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	return job
}

type stubRunner struct {
	result core.SweepResult
	err    error
	calls  int
}

func (s *stubRunner) SweepOnce(context.Context) (core.SweepResult, error) {
	s.calls++
	return s.result, s.err
}

type gaugeRecorder struct {
	core.NopMetricsRecorder
	gauges map[string][]float64
}

func (g *gaugeRecorder) SetGauge(_ context.Context, name string, value float64, _ map[string]string) {
	if g.gauges == nil {
		g.gauges = map[string][]float64{}
	}
	g.gauges[name] = append(g.gauges[name], value)
}

func (g *gaugeRecorder) last(name string) (float64, bool) {
	values := g.gauges[name]
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

func TestReplayCommands_RefreshDeadLetterDepthGauge(t *testing.T) {
	store := memorystore.New()
	first := deadLetter(t, store, "evt_1", "invoice.paid")
	deadLetter(t, store, "evt_2", "invoice.paid")
	deadLetter(t, store, "evt_3", "payout.failed")
	recorder := &gaugeRecorder{}

	err := NewReplayDeadLetterCommand(store, WithDepthGauge(recorder)).
		Execute(context.Background(), ReplayDeadLetterMessage{JobID: first.ID})
	if err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if depth, ok := recorder.last(core.MetricDeadLetterDepth); !ok || depth != 2 {
		t.Fatalf("expected depth gauge 2 after single replay, got %v (set=%v)", depth, ok)
	}

	err = NewReplayDeadLettersCommand(store, WithDepthGauge(recorder)).
		Execute(context.Background(), ReplayDeadLettersMessage{Filter: core.DeadLetterFilter{EventType: "invoice.paid"}})
	if err != nil {
		t.Fatalf("execute batch replay: %v", err)
	}
	if depth, _ := recorder.last(core.MetricDeadLetterDepth); depth != 1 {
		t.Fatalf("expected depth gauge 1 after batch replay, got %v", depth)
	}

	calls := len(recorder.gauges[core.MetricDeadLetterDepth])
	err = NewReplayDeadLettersCommand(store, WithDepthGauge(recorder)).
		Execute(context.Background(), ReplayDeadLettersMessage{Filter: core.DeadLetterFilter{EventType: "charge.refunded"}})
	if err != nil {
		t.Fatalf("execute empty batch replay: %v", err)
	}
	if got := len(recorder.gauges[core.MetricDeadLetterDepth]); got != calls {
		t.Fatalf("expected no gauge update when nothing was replayed")
	}
}

func TestReplayDeadLetterCommand_ReplaysAndStoresJob(t *testing.T) {
	store := memorystore.New()
	job := deadLetter(t, store, "evt_1", "invoice.paid")

	collector := gocmd.NewResult[core.QueuedJob]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewReplayDeadLetterCommand(store).Execute(ctx, ReplayDeadLetterMessage{JobID: job.ID}); err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	replayed, ok := collector.Load()
	if !ok {
		t.Fatalf("expected replayed job stored")
	}
	if replayed.Status != core.JobStatusPending || replayed.AttemptCount != 1 || replayed.Attempts() != 0 {
		t.Fatalf("unexpected replayed job %#v", replayed)
	}
}

func TestReplayDeadLetterCommand_NotDeadLetteredIsConflict(t *testing.T) {
	store := memorystore.New()
	job, err := store.Enqueue(context.Background(), core.EnqueueRequest{EventID: "evt_1", EventType: "invoice.paid"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	err = NewReplayDeadLetterCommand(store).Execute(context.Background(), ReplayDeadLetterMessage{JobID: job.ID})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %T: %v", err, err)
	}
	if rich.TextCode != core.ErrorConflict {
		t.Fatalf("expected %s, got %s", core.ErrorConflict, rich.TextCode)
	}
}

func TestReplayDeadLettersCommand_ReplaysMatchingFilter(t *testing.T) {
	store := memorystore.New()
	deadLetter(t, store, "evt_1", "invoice.paid")
	deadLetter(t, store, "evt_2", "payout.failed")
	deadLetter(t, store, "evt_3", "invoice.paid")

	collector := gocmd.NewResult[ReplayBatchResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewReplayDeadLettersCommand(store).Execute(ctx, ReplayDeadLettersMessage{
		Filter: core.DeadLetterFilter{EventType: "invoice.paid"},
	})
	if err != nil {
		t.Fatalf("execute batch replay: %v", err)
	}
	result, _ := collector.Load()
	if len(result.Replayed) != 2 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected batch result %#v", result)
	}
	depth, _ := store.DeadLetterDepth(context.Background())
	if depth != 1 {
		t.Fatalf("expected one remaining dead letter, got %d", depth)
	}
}

func TestSweepCommand_DelegatesToRunner(t *testing.T) {
	runner := &stubRunner{result: core.SweepResult{ProcessedEvents: 3, ExpiredLocks: 1}}
	collector := gocmd.NewResult[core.SweepResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewSweepCommand(runner).Execute(ctx, SweepMessage{}); err != nil {
		t.Fatalf("execute sweep: %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.ProcessedEvents != 3 || runner.calls != 1 {
		t.Fatalf("unexpected sweep result %#v calls=%d", result, runner.calls)
	}

	runner.err = errors.New("database down")
	if err := NewSweepCommand(runner).Execute(context.Background(), SweepMessage{}); err == nil {
		t.Fatalf("expected sweep failure")
	}
}
