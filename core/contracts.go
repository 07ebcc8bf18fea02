package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// IdempotencyStore is the source of truth for fully processed events.
type IdempotencyStore interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// RecordEvent returns false without error when the event was already recorded.
	RecordEvent(ctx context.Context, eventID string, eventType string) (bool, error)
}

// LockStore provides TTL-bounded advisory locks keyed by business aggregate.
// Both operations are single atomic attempts and never block.
type LockStore interface {
	Acquire(ctx context.Context, key string, holderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string, holderID string) (bool, error)
}

// Enqueuer is the only queue operation available to ingress.
type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (QueuedJob, error)
}

// Queue persists jobs with visibility lease semantics.
type Queue interface {
	Enqueuer
	// Dequeue claims one visible job, increments its attempt count and hides
	// it from other owners until the visibility lease expires.
	Dequeue(ctx context.Context, owner string, visibility time.Duration) (QueuedJob, bool, error)
	ScheduleRetry(ctx context.Context, jobID string, owner string, visibleAfter time.Time, cause string) error
	DeadLetter(ctx context.Context, jobID string, owner string, kind FailureKind, cause string) error
	MarkProcessed(ctx context.Context, jobID string, owner string) error
	// Requeue returns an unfinished claim to pending without touching attempts.
	Requeue(ctx context.Context, jobID string, owner string) error
}

// DeadLetterQueue is the operator inspection and replay surface.
type DeadLetterQueue interface {
	GetJob(ctx context.Context, jobID string) (QueuedJob, error)
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]QueuedJob, error)
	DeadLetterDepth(ctx context.Context) (int, error)
	Replay(ctx context.Context, jobID string) (QueuedJob, error)
}

// Finalizer records the processed event, releases the aggregate lock and
// marks the job processed as one atomic unit.
type Finalizer interface {
	Complete(ctx context.Context, req CompleteRequest) (bool, error)
}

// Sweeper removes expired rows outside the hot path.
type Sweeper interface {
	Sweep(ctx context.Context, req SweepRequest) (SweepResult, error)
}

type Handler interface {
	Category() Category
	// LockKey reports the aggregate lock needed for the event, if any. It may
	// read stored state but must not write.
	LockKey(ctx context.Context, event Event) (string, bool, error)
	Handle(ctx context.Context, event Event) error
}

type HandlerResolver interface {
	Resolve(category Category) (Handler, bool)
}

type AlertKind string

const (
	AlertKindDeadLetter          AlertKind = "dead_letter"
	AlertKindLockContentionStorm AlertKind = "lock_contention_storm"
)

type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

type Alert struct {
	Kind       AlertKind
	Severity   AlertSeverity
	JobID      string
	EventID    string
	EventType  string
	LockKey    string
	Attempts   int
	Reason     string
	OccurredAt time.Time
	Metadata   map[string]any
}

type AlertSink interface {
	Emit(ctx context.Context, alert Alert) error
}

// ContentionObserver is told about every failed lock acquisition.
type ContentionObserver interface {
	ObserveContention(ctx context.Context, lockKey string, event Event)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
	SetGauge(ctx context.Context, name string, value float64, tags map[string]string)
}

// ArchiveSink keeps dead-lettered payloads before retention removes them.
type ArchiveSink interface {
	Archive(ctx context.Context, job QueuedJob) error
}

type ProcessingHookEvent struct {
	Job       QueuedJob
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type ProcessingHook interface {
	OnStart(ctx context.Context, event ProcessingHookEvent)
	OnSuccess(ctx context.Context, event ProcessingHookEvent)
	OnFailure(ctx context.Context, event ProcessingHookEvent)
	OnRetry(ctx context.Context, event ProcessingHookEvent)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
