package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/processor"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDProcessWebhook = "payhooks.webhook.process"
	JobIDRetentionSweep = "payhooks.retention.sweep"

	dedupPolicyDrop = "drop"
)

// JobRef identifies a durable queue job inside a go-job message. The durable
// queue stays the source of truth; go-job messages only wake workers.
type JobRef struct {
	JobID     string
	EventID   string
	EventType string
	Attempt   int
}

// RetryPolicy bounds nacks of wake-up deliveries.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a queued webhook job to a go-job message keyed by
// event id so a go-job deduplicating queue drops repeated wake-ups.
func ToExecutionMessage(queued core.QueuedJob) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDProcessWebhook,
		ScriptPath: "payhooks/" + string(core.CategoryFor(queued.EventType)),
		Parameters: map[string]any{
			"job_id":     strings.TrimSpace(queued.ID),
			"event_id":   strings.TrimSpace(queued.EventID),
			"event_type": strings.TrimSpace(queued.EventType),
			"attempt":    queued.AttemptCount,
		},
		IdempotencyKey: strings.TrimSpace(queued.EventID),
		DedupPolicy:    job.DeduplicationPolicy(dedupPolicyDrop),
	}
}

// FromExecutionMessage extracts the job reference from a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) (JobRef, bool) {
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDProcessWebhook {
		return JobRef{}, false
	}
	ref := JobRef{
		JobID:     stringParam(msg.Parameters, "job_id"),
		EventID:   stringParam(msg.Parameters, "event_id"),
		EventType: stringParam(msg.Parameters, "event_type"),
		Attempt:   intParam(msg.Parameters, "attempt"),
	}
	if ref.EventID == "" {
		ref.EventID = strings.TrimSpace(msg.IdempotencyKey)
	}
	return ref, ref.JobID != ""
}

// NotifyingEnqueuer stores the job durably first and then publishes a go-job
// wake-up message. A failed publish is logged, never returned: the job is
// already durable and pollers will find it.
type NotifyingEnqueuer struct {
	durable  core.Enqueuer
	enqueuer queue.Enqueuer
	instr    core.Instrumentation
}

func NewNotifyingEnqueuer(durable core.Enqueuer, enqueuer queue.Enqueuer, instr core.Instrumentation) *NotifyingEnqueuer {
	return &NotifyingEnqueuer{durable: durable, enqueuer: enqueuer, instr: instr}
}

func (e *NotifyingEnqueuer) Enqueue(ctx context.Context, req core.EnqueueRequest) (core.QueuedJob, error) {
	if e == nil || e.durable == nil {
		return core.QueuedJob{}, core.QueueUnavailable(fmt.Errorf("gojob: durable enqueuer is not configured"))
	}
	queued, err := e.durable.Enqueue(ctx, req)
	if err != nil {
		return core.QueuedJob{}, err
	}
	if e.enqueuer == nil {
		return queued, nil
	}
	if err := e.enqueuer.Enqueue(ctx, ToExecutionMessage(queued)); err != nil {
		e.instr.Warn(ctx, "webhook wake-up publish failed", map[string]any{
			"job_id":   queued.ID,
			"event_id": queued.EventID,
			"error":    err.Error(),
		})
		e.instr.Count(ctx, "payhooks.gojob.publish_failed", core.EventTags(queued.EventType))
	}
	return queued, nil
}

// JobProcessor is the slice of the processor a wake-up consumer drives.
type JobProcessor interface {
	ProcessNext(ctx context.Context) (processor.Result, bool, error)
}

// Consumer turns go-job deliveries into processor claims. Each delivery
// claims at most one visible job from the durable queue.
type Consumer struct {
	dequeuer  queue.Dequeuer
	processor JobProcessor
	policy    RetryPolicy
	retry     time.Duration
}

func NewConsumer(dequeuer queue.Dequeuer, proc JobProcessor, policy RetryPolicy, retryDelay time.Duration) *Consumer {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Consumer{dequeuer: dequeuer, processor: proc, policy: policy, retry: retryDelay}
}

// ConsumeOnce waits for one delivery and processes the next visible job.
// Queue failures nack the delivery so the wake-up is redelivered later.
func (c *Consumer) ConsumeOnce(ctx context.Context) (processor.Result, bool, error) {
	if c == nil || c.dequeuer == nil || c.processor == nil {
		return processor.Result{}, false, fmt.Errorf("gojob: consumer is not configured")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return processor.Result{}, false, err
	}
	attempt := 0
	if ref, ok := FromExecutionMessage(delivery.Message()); ok {
		attempt = ref.Attempt
	}
	result, ok, procErr := c.processor.ProcessNext(ctx)
	if procErr != nil {
		opts := c.policy.NormalizeAttempt(queue.NackOptions{
			Delay:   c.retry,
			Requeue: true,
			Reason:  procErr.Error(),
		}, attempt+1)
		if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
			return result, ok, fmt.Errorf("gojob: nack after %v: %w", procErr, nackErr)
		}
		return result, ok, procErr
	}
	if err := delivery.Ack(ctx); err != nil {
		return result, ok, err
	}
	return result, ok, nil
}

// HookAdapter lets a go-job worker hook observe webhook processing.
type HookAdapter struct {
	hook worker.Hook
}

func NewHookAdapter(hook worker.Hook) *HookAdapter {
	return &HookAdapter{hook: hook}
}

func (a *HookAdapter) OnStart(ctx context.Context, event core.ProcessingHookEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, toWorkerEvent(event))
}

func (a *HookAdapter) OnSuccess(ctx context.Context, event core.ProcessingHookEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, toWorkerEvent(event))
}

func (a *HookAdapter) OnFailure(ctx context.Context, event core.ProcessingHookEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, toWorkerEvent(event))
}

func (a *HookAdapter) OnRetry(ctx context.Context, event core.ProcessingHookEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, toWorkerEvent(event))
}

func toWorkerEvent(event core.ProcessingHookEvent) worker.Event {
	return worker.Event{
		Message:   ToExecutionMessage(event.Job),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func intParam(params map[string]any, key string) int {
	switch typed := params[key].(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err == nil {
			return parsed
		}
	}
	return 0
}

var (
	_ core.Enqueuer       = (*NotifyingEnqueuer)(nil)
	_ core.ProcessingHook = (*HookAdapter)(nil)
	_ JobProcessor        = (*processor.Processor)(nil)
)
