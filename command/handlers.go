package command

import (
	"context"
	"errors"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-payhooks/core"
)

// RetentionRunner runs one retention pass on demand.
type RetentionRunner interface {
	SweepOnce(ctx context.Context) (core.SweepResult, error)
}

// ReplayBatchResult reports which dead letters a batch replay moved back to pending.
type ReplayBatchResult struct {
	Replayed []core.QueuedJob
	Skipped  []string
}

// ReplayOption configures the replay commands.
type ReplayOption func(*replaySettings)

type replaySettings struct {
	metrics core.MetricsRecorder
}

// WithDepthGauge refreshes the dead-letter depth gauge after jobs leave the queue.
func WithDepthGauge(recorder core.MetricsRecorder) ReplayOption {
	return func(s *replaySettings) {
		s.metrics = recorder
	}
}

func newReplaySettings(opts []ReplayOption) replaySettings {
	s := replaySettings{}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

func (s replaySettings) refreshDepth(ctx context.Context, deadLetters core.DeadLetterQueue) {
	if s.metrics == nil {
		return
	}
	depth, err := deadLetters.DeadLetterDepth(context.WithoutCancel(ctx))
	if err != nil {
		return
	}
	s.metrics.SetGauge(ctx, core.MetricDeadLetterDepth, float64(depth), nil)
}

type ReplayDeadLetterCommand struct {
	deadLetters core.DeadLetterQueue
	settings    replaySettings
}

func NewReplayDeadLetterCommand(deadLetters core.DeadLetterQueue, opts ...ReplayOption) *ReplayDeadLetterCommand {
	return &ReplayDeadLetterCommand{deadLetters: deadLetters, settings: newReplaySettings(opts)}
}

func (c *ReplayDeadLetterCommand) Execute(ctx context.Context, msg ReplayDeadLetterMessage) error {
	if c == nil || c.deadLetters == nil {
		return commandDependencyError("command: dead letter queue is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	job, err := c.deadLetters.Replay(ctx, msg.JobID)
	if err != nil {
		return core.MapError(err)
	}
	c.settings.refreshDepth(ctx, c.deadLetters)
	storeResult(ctx, job)
	return nil
}

type ReplayDeadLettersCommand struct {
	deadLetters core.DeadLetterQueue
	settings    replaySettings
}

func NewReplayDeadLettersCommand(deadLetters core.DeadLetterQueue, opts ...ReplayOption) *ReplayDeadLettersCommand {
	return &ReplayDeadLettersCommand{deadLetters: deadLetters, settings: newReplaySettings(opts)}
}

func (c *ReplayDeadLettersCommand) Execute(ctx context.Context, msg ReplayDeadLettersMessage) error {
	if c == nil || c.deadLetters == nil {
		return commandDependencyError("command: dead letter queue is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	filter := msg.Filter
	if filter.Limit == 0 {
		filter.Limit = MaxReplayBatch
	}
	jobs, err := c.deadLetters.ListDeadLetters(ctx, filter)
	if err != nil {
		return core.MapError(err)
	}
	result := ReplayBatchResult{}
	defer func() {
		if len(result.Replayed) > 0 {
			c.settings.refreshDepth(ctx, c.deadLetters)
		}
	}()
	for _, job := range jobs {
		replayed, err := c.deadLetters.Replay(ctx, job.ID)
		if errors.Is(err, core.ErrJobNotReplayable) || errors.Is(err, core.ErrJobNotFound) {
			// Replayed or purged by someone else since the listing.
			result.Skipped = append(result.Skipped, job.ID)
			continue
		}
		if err != nil {
			return core.MapError(err)
		}
		result.Replayed = append(result.Replayed, replayed)
	}
	storeResult(ctx, result)
	return nil
}

type SweepCommand struct {
	runner RetentionRunner
}

func NewSweepCommand(runner RetentionRunner) *SweepCommand {
	return &SweepCommand{runner: runner}
}

func (c *SweepCommand) Execute(ctx context.Context, _ SweepMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: retention sweeper is required")
	}
	result, err := c.runner.SweepOnce(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
