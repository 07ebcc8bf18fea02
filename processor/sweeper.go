package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

// RetentionSweeper removes processed events, finished jobs, old dead letters
// and expired lock rows on its own schedule, away from the hot path.
type RetentionSweeper struct {
	store       core.Sweeper
	deadLetters core.DeadLetterQueue
	archive     core.ArchiveSink
	retention   core.RetentionConfig
	instr       core.Instrumentation
	now         func() time.Time
}

type SweeperOption func(*RetentionSweeper)

func WithArchive(archive core.ArchiveSink) SweeperOption {
	return func(s *RetentionSweeper) {
		s.archive = archive
	}
}

func WithSweeperInstrumentation(instr core.Instrumentation) SweeperOption {
	return func(s *RetentionSweeper) {
		s.instr = instr
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *RetentionSweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRetentionSweeper(
	store core.Sweeper,
	deadLetters core.DeadLetterQueue,
	retention core.RetentionConfig,
	opts ...SweeperOption,
) (*RetentionSweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("processor: sweeper store is required")
	}
	defaults := core.DefaultConfig().Retention
	if retention.SweepInterval <= 0 {
		retention.SweepInterval = defaults.SweepInterval
	}
	s := &RetentionSweeper{
		store:       store,
		deadLetters: deadLetters,
		retention:   retention,
		instr:       core.NewInstrumentation("payhooks.sweeper", nil, nil, nil),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RetentionSweeper) SweepOnce(ctx context.Context) (core.SweepResult, error) {
	now := s.now().UTC()
	req := core.SweepRequest{Now: now}
	if s.retention.ProcessedEvents > 0 {
		req.ProcessedEventsBefore = now.Add(-s.retention.ProcessedEvents)
	}
	if s.retention.ProcessedJobs > 0 {
		req.ProcessedJobsBefore = now.Add(-s.retention.ProcessedJobs)
	}
	if s.retention.DeadLetters > 0 {
		req.DeadLettersBefore = now.Add(-s.retention.DeadLetters)
	}

	archived := 0
	if s.archive != nil && s.deadLetters != nil && !req.DeadLettersBefore.IsZero() {
		count, err := s.archiveExpired(ctx, req.DeadLettersBefore)
		if err != nil {
			// Nothing is deleted until every expiring dead letter is archived.
			req.DeadLettersBefore = time.Time{}
			s.instr.Error(ctx, "dead-letter archive failed, keeping dead letters", map[string]any{"error": err.Error()})
		}
		archived = count
	}

	result, err := s.store.Sweep(ctx, req)
	if err != nil {
		return core.SweepResult{}, err
	}
	result.Archived = archived

	for name, value := range map[string]int{
		"processed_events": result.ProcessedEvents,
		"processed_jobs":   result.ProcessedJobs,
		"dead_letters":     result.DeadLetters,
		"expired_locks":    result.ExpiredLocks,
	} {
		if value > 0 {
			s.instr.Metrics().IncCounter(ctx, core.MetricSweepRemoved, int64(value), map[string]string{"table": name})
		}
	}
	if s.deadLetters != nil {
		if depth, depthErr := s.deadLetters.DeadLetterDepth(ctx); depthErr == nil {
			s.instr.Gauge(ctx, core.MetricDeadLetterDepth, float64(depth), nil)
		}
	}
	s.instr.Info(ctx, "retention sweep completed", map[string]any{
		"processed_events": result.ProcessedEvents,
		"processed_jobs":   result.ProcessedJobs,
		"dead_letters":     result.DeadLetters,
		"expired_locks":    result.ExpiredLocks,
		"archived":         result.Archived,
	})
	return result, nil
}

func (s *RetentionSweeper) archiveExpired(ctx context.Context, before time.Time) (int, error) {
	const page = 100
	archived := 0
	for offset := 0; ; offset += page {
		jobs, err := s.deadLetters.ListDeadLetters(ctx, core.DeadLetterFilter{
			Before: &before,
			Limit:  page,
			Offset: offset,
		})
		if err != nil {
			return archived, err
		}
		for _, job := range jobs {
			if err := s.archive.Archive(ctx, job); err != nil {
				return archived, fmt.Errorf("processor: archive dead letter %s: %w", job.ID, err)
			}
			archived++
		}
		if len(jobs) < page {
			return archived, nil
		}
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.retention.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.instr.Error(ctx, "retention sweep failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
