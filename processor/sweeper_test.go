package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

type recordingArchive struct {
	archived []string
	err      error
}

func (r *recordingArchive) Archive(_ context.Context, job core.QueuedJob) error {
	if r.err != nil {
		return r.err
	}
	r.archived = append(r.archived, job.ID)
	return nil
}

type depthRecorder struct {
	core.NopMetricsRecorder
	depths []float64
}

func (d *depthRecorder) SetGauge(_ context.Context, name string, value float64, _ map[string]string) {
	if name == core.MetricDeadLetterDepth {
		d.depths = append(d.depths, value)
	}
}

func deadLetterOne(t *testing.T, f *fixture, eventID string) core.QueuedJob {
	t.Helper()
	job := f.enqueue(t, eventID, "invoice.paid")
	if result := f.next(t); result.Status != StatusDeadLettered {
		t.Fatalf("expected dead letter, got %+v", result)
	}
	return job
}

func TestRetentionSweeper_ArchivesThenPurgesOldRows(t *testing.T) {
	handler := &stubHandler{category: core.CategoryPayment, errs: []error{core.Permanent(nil, "bad payload")}}
	f := newFixture(t, handler)
	old := deadLetterOne(t, f, "evt_old")
	f.enqueue(t, "evt_done", "invoice.paid")
	f.next(t)

	f.clock.Advance(10 * 24 * time.Hour)
	handler.errs = append(handler.errs, nil, core.Permanent(nil, "bad payload"))
	fresh := deadLetterOne(t, f, "evt_fresh")

	archive := &recordingArchive{}
	depth := &depthRecorder{}
	sweeper, err := NewRetentionSweeper(f.store, f.store, core.RetentionConfig{
		ProcessedEvents: 7 * 24 * time.Hour,
		ProcessedJobs:   7 * 24 * time.Hour,
		DeadLetters:     7 * 24 * time.Hour,
	}, WithArchive(archive), WithSweeperClock(f.clock.Now),
		WithSweeperInstrumentation(core.NewInstrumentation("payhooks.sweeper", nil, nil, depth)))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	result, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.DeadLetters != 1 || result.Archived != 1 || result.ProcessedJobs != 1 || result.ProcessedEvents != 1 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if len(archive.archived) != 1 || archive.archived[0] != old.ID {
		t.Fatalf("expected only the expired dead letter archived, got %v", archive.archived)
	}
	if _, err := f.store.GetJob(context.Background(), fresh.ID); err != nil {
		t.Fatalf("expected fresh dead letter kept: %v", err)
	}
	if len(depth.depths) != 1 || depth.depths[0] != 1 {
		t.Fatalf("expected depth gauge refreshed to 1 after purge, got %v", depth.depths)
	}
}

func TestRetentionSweeper_KeepsDeadLettersWhenArchiveFails(t *testing.T) {
	f := newFixture(t, &stubHandler{category: core.CategoryPayment, errs: []error{core.Permanent(nil, "bad payload")}})
	job := deadLetterOne(t, f, "evt_old")
	f.clock.Advance(40 * 24 * time.Hour)

	sweeper, err := NewRetentionSweeper(f.store, f.store, core.RetentionConfig{DeadLetters: 30 * 24 * time.Hour},
		WithArchive(&recordingArchive{err: errors.New("bucket unavailable")}), WithSweeperClock(f.clock.Now))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	result, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.DeadLetters != 0 {
		t.Fatalf("expected no dead letters removed, got %d", result.DeadLetters)
	}
	if _, err := f.store.GetJob(context.Background(), job.ID); err != nil {
		t.Fatalf("expected dead letter kept: %v", err)
	}
}
