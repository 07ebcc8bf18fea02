package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessed      Status = "processed"
	StatusDuplicate      Status = "duplicate"
	StatusIgnored        Status = "ignored"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusDeadLettered   Status = "dead_lettered"
	StatusRequeued       Status = "requeued"
	StatusError          Status = "error"
)

// Result reports what one attempt did to its job.
type Result struct {
	JobID     string
	EventID   string
	EventType string
	Status    Status
	Attempt   int
	LockKey   string
	Delay     time.Duration
	Err       error
}

// Policy bounds one category's handler invocations.
type Policy struct {
	Retry   core.RetryPolicy
	Timeout time.Duration
}

type Dependencies struct {
	Queue       core.Queue
	Idempotency core.IdempotencyStore
	Locks       core.LockStore
	Finalizer   core.Finalizer
	Handlers    core.HandlerResolver
	DeadLetters core.DeadLetterQueue
}

type Processor struct {
	queue       core.Queue
	idempotency core.IdempotencyStore
	locks       core.LockStore
	finalizer   core.Finalizer
	handlers    core.HandlerResolver
	deadLetters core.DeadLetterQueue

	owner      string
	visibility time.Duration
	lockTTL    time.Duration
	defaults   Policy
	policies   map[core.Category]Policy
	alerts     core.AlertSink
	contention core.ContentionObserver
	hooks      []core.ProcessingHook
	instr      core.Instrumentation
	now        func() time.Time
}

type Option func(*Processor)

func WithOwner(owner string) Option {
	return func(p *Processor) {
		if trimmed := strings.TrimSpace(owner); trimmed != "" {
			p.owner = trimmed
		}
	}
}

func WithVisibilityTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		if timeout > 0 {
			p.visibility = timeout
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(p *Processor) {
		if ttl > 0 {
			p.lockTTL = ttl
		}
	}
}

func WithDefaultPolicy(policy Policy) Option {
	return func(p *Processor) {
		if policy.Retry != nil {
			p.defaults.Retry = policy.Retry
		}
		if policy.Timeout > 0 {
			p.defaults.Timeout = policy.Timeout
		}
	}
}

func WithCategoryPolicy(category core.Category, policy Policy) Option {
	return func(p *Processor) {
		p.policies[category] = policy
	}
}

// WithConfig applies queue, lock, retry and per-category settings.
func WithConfig(cfg core.Config) Option {
	return func(p *Processor) {
		WithVisibilityTimeout(cfg.Queue.VisibilityTimeout)(p)
		WithLockTTL(cfg.Locks.TTL)(p)
		WithDefaultPolicy(Policy{
			Retry:   cfg.RetryPolicyFor(core.CategoryUnknown),
			Timeout: cfg.HandlerTimeout,
		})(p)
		for _, category := range core.Categories() {
			p.policies[category] = Policy{
				Retry:   cfg.RetryPolicyFor(category),
				Timeout: cfg.HandlerTimeoutFor(category),
			}
		}
	}
}

func WithAlertSink(sink core.AlertSink) Option {
	return func(p *Processor) {
		p.alerts = sink
	}
}

func WithContentionObserver(observer core.ContentionObserver) Option {
	return func(p *Processor) {
		p.contention = observer
	}
}

func WithHooks(hooks ...core.ProcessingHook) Option {
	return func(p *Processor) {
		for _, hook := range hooks {
			if hook != nil {
				p.hooks = append(p.hooks, hook)
			}
		}
	}
}

func WithInstrumentation(instr core.Instrumentation) Option {
	return func(p *Processor) {
		p.instr = instr
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func New(deps Dependencies, opts ...Option) (*Processor, error) {
	if deps.Queue == nil {
		return nil, fmt.Errorf("processor: queue is required")
	}
	if deps.Idempotency == nil {
		return nil, fmt.Errorf("processor: idempotency store is required")
	}
	if deps.Locks == nil {
		return nil, fmt.Errorf("processor: lock store is required")
	}
	if deps.Finalizer == nil {
		return nil, fmt.Errorf("processor: finalizer is required")
	}
	if deps.Handlers == nil {
		return nil, fmt.Errorf("processor: handler resolver is required")
	}
	defaults := core.DefaultConfig()
	p := &Processor{
		queue:       deps.Queue,
		idempotency: deps.Idempotency,
		locks:       deps.Locks,
		finalizer:   deps.Finalizer,
		handlers:    deps.Handlers,
		deadLetters: deps.DeadLetters,
		owner:       "worker-" + uuid.NewString(),
		visibility:  defaults.Queue.VisibilityTimeout,
		lockTTL:     defaults.Locks.TTL,
		defaults: Policy{
			Retry:   core.DefaultRetryPolicy(),
			Timeout: defaults.HandlerTimeout,
		},
		policies: map[core.Category]Policy{},
		instr:    core.NewInstrumentation("payhooks.processor", nil, nil, nil),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *Processor) Owner() string {
	return p.owner
}

// ProcessNext claims one visible job and runs it to a terminal or scheduled
// state. It reports false when nothing was visible.
func (p *Processor) ProcessNext(ctx context.Context) (Result, bool, error) {
	job, ok, err := p.queue.Dequeue(ctx, p.owner, p.visibility)
	if err != nil {
		return Result{}, false, core.QueueUnavailable(err)
	}
	if !ok {
		return Result{}, false, nil
	}
	return p.Process(ctx, job), true, nil
}

// Process runs one claimed job. The job must already be in flight for this
// processor's owner, with its attempt count incremented by the claim.
func (p *Processor) Process(ctx context.Context, job core.QueuedJob) Result {
	startedAt := p.now()
	event := job.Event()
	p.notify(ctx, "start", core.ProcessingHookEvent{Job: job, Attempt: job.AttemptCount, StartedAt: startedAt})
	p.instr.Debug(ctx, "webhook job dequeued", jobFields(job))

	processed, err := p.idempotency.IsProcessed(ctx, job.EventID)
	if err != nil {
		return p.fail(ctx, job, "", "", core.Transient(err, "processor: idempotency lookup failed"), startedAt)
	}
	if processed {
		return p.discardDuplicate(ctx, job, startedAt)
	}

	handler, ok := p.handlers.Resolve(event.Category)
	if !ok || handler == nil {
		return p.complete(ctx, job, "", "", core.OutcomeIgnored, startedAt)
	}

	lockKey, needsLock, err := handler.LockKey(ctx, event)
	if err != nil {
		return p.fail(ctx, job, "", "", err, startedAt)
	}
	holderID := ""
	if needsLock {
		holderID = p.holderID(job)
		granted, err := p.locks.Acquire(ctx, lockKey, holderID, p.lockTTL)
		if err != nil {
			return p.fail(ctx, job, "", "", core.Transient(err, "processor: lock acquire failed"), startedAt)
		}
		if !granted {
			p.instr.Count(ctx, core.MetricLockContended, core.EventTags(job.EventType))
			if p.contention != nil {
				p.contention.ObserveContention(context.WithoutCancel(ctx), lockKey, event)
			}
			return p.fail(ctx, job, "", "", core.LockContended(lockKey), startedAt)
		}
	}

	policy := p.policyFor(event.Category)
	handlerCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	if needsLock {
		handlerCtx = core.ContextWithHeldLock(handlerCtx, lockKey)
	}
	err = invoke(handlerCtx, handler, event)
	cancel()
	if err != nil {
		return p.fail(ctx, job, lockKey, holderID, err, startedAt)
	}
	return p.complete(ctx, job, lockKey, holderID, core.OutcomeHandled, startedAt)
}

func invoke(ctx context.Context, handler core.Handler, event core.Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("processor: handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, event)
}

func (p *Processor) discardDuplicate(ctx context.Context, job core.QueuedJob, startedAt time.Time) Result {
	bg := context.WithoutCancel(ctx)
	result := p.result(job, StatusDuplicate)
	if err := p.queue.MarkProcessed(bg, job.ID, p.owner); err != nil {
		p.instr.Error(ctx, "webhook duplicate discard failed", withError(jobFields(job), err))
		result.Status = StatusError
		result.Err = err
		return result
	}
	p.instr.Count(ctx, core.MetricEventsDuplicate, core.EventTags(job.EventType))
	p.instr.Info(ctx, "webhook event already processed, discarded duplicate", jobFields(job))
	p.notify(ctx, "success", p.hookEvent(job, startedAt, 0, nil))
	return result
}

func (p *Processor) complete(
	ctx context.Context,
	job core.QueuedJob,
	lockKey string,
	holderID string,
	outcome string,
	startedAt time.Time,
) Result {
	bg := context.WithoutCancel(ctx)
	recorded, err := p.finalizer.Complete(bg, core.CompleteRequest{
		JobID:     job.ID,
		Owner:     p.owner,
		EventID:   job.EventID,
		EventType: job.EventType,
		Outcome:   outcome,
		LockKey:   lockKey,
		HolderID:  holderID,
	})
	if err != nil {
		// The handler's writes stand; the retry re-invokes an upsert-safe handler.
		return p.fail(ctx, job, lockKey, holderID, core.Transient(err, "processor: record processed event failed"), startedAt)
	}

	tags := core.EventTags(job.EventType)
	result := p.result(job, StatusProcessed)
	result.LockKey = lockKey
	fields := jobFields(job)
	fields["duration_ms"] = p.now().Sub(startedAt).Milliseconds()
	switch {
	case outcome == core.OutcomeIgnored:
		result.Status = StatusIgnored
		p.instr.Count(ctx, core.MetricEventsIgnored, tags)
		p.instr.Info(ctx, "webhook event type has no handler, recorded as ignored", fields)
	case !recorded:
		result.Status = StatusDuplicate
		p.instr.Count(ctx, core.MetricEventsDuplicate, tags)
		p.instr.Warn(ctx, "webhook event was recorded concurrently by another attempt", fields)
	default:
		p.instr.Info(ctx, "webhook event processed", fields)
	}
	p.instr.Count(ctx, core.MetricEventsProcessed, tags)
	p.instr.Observe(ctx, core.MetricProcessingLatency, startedAt, tags)
	p.notify(ctx, "success", p.hookEvent(job, startedAt, 0, nil))
	return result
}

func (p *Processor) fail(
	ctx context.Context,
	job core.QueuedJob,
	lockKey string,
	holderID string,
	cause error,
	startedAt time.Time,
) Result {
	bg := context.WithoutCancel(ctx)
	if lockKey != "" {
		if _, err := p.locks.Release(bg, lockKey, holderID); err != nil {
			fields := jobFields(job)
			fields["lock_key"] = lockKey
			p.instr.Error(ctx, "webhook lock release failed", withError(fields, err))
		}
	}

	tags := core.EventTags(job.EventType)
	if ctx.Err() != nil {
		return p.requeue(ctx, job, cause, startedAt)
	}

	kind := core.ClassifyFailure(cause)
	tags["kind"] = string(kind)
	p.instr.Count(ctx, core.MetricEventsFailed, tags)
	p.notify(ctx, "failure", p.hookEvent(job, startedAt, 0, cause))

	fields := withError(jobFields(job), cause)
	fields["kind"] = string(kind)
	p.instr.Warn(ctx, "webhook handler attempt failed", fields)

	if kind == core.FailureKindPermanent {
		return p.deadLetter(ctx, job, kind, cause, startedAt)
	}
	policy := p.policyFor(core.CategoryFor(job.EventType))
	delay, retry := policy.Retry.NextDelay(job.Attempts())
	if !retry {
		return p.deadLetter(ctx, job, kind, cause, startedAt)
	}

	visibleAfter := p.now().Add(delay)
	result := p.result(job, StatusRetryScheduled)
	result.Delay = delay
	result.Err = cause
	if err := p.queue.ScheduleRetry(bg, job.ID, p.owner, visibleAfter, cause.Error()); err != nil {
		p.instr.Error(ctx, "webhook retry scheduling failed", withError(jobFields(job), err))
		result.Status = StatusError
		result.Err = err
		return result
	}
	p.instr.Count(ctx, core.MetricEventsRetried, core.EventTags(job.EventType))
	fields["delay_ms"] = delay.Milliseconds()
	fields["visible_after"] = visibleAfter
	p.instr.Info(ctx, "webhook retry scheduled", fields)
	p.notify(ctx, "retry", p.hookEvent(job, startedAt, delay, cause))
	return result
}

func (p *Processor) requeue(ctx context.Context, job core.QueuedJob, cause error, startedAt time.Time) Result {
	bg := context.WithoutCancel(ctx)
	result := p.result(job, StatusRequeued)
	result.Err = cause
	if err := p.queue.Requeue(bg, job.ID, p.owner); err != nil {
		p.instr.Error(ctx, "webhook job requeue on shutdown failed", withError(jobFields(job), err))
		result.Status = StatusError
		result.Err = err
		return result
	}
	p.instr.Info(ctx, "webhook job returned to pending on shutdown", withError(jobFields(job), cause))
	p.notify(ctx, "failure", p.hookEvent(job, startedAt, 0, cause))
	return result
}

func (p *Processor) deadLetter(
	ctx context.Context,
	job core.QueuedJob,
	kind core.FailureKind,
	cause error,
	startedAt time.Time,
) Result {
	bg := context.WithoutCancel(ctx)
	result := p.result(job, StatusDeadLettered)
	result.Err = cause
	if err := p.queue.DeadLetter(bg, job.ID, p.owner, kind, cause.Error()); err != nil {
		p.instr.Error(ctx, "webhook dead-letter transition failed", withError(jobFields(job), err))
		result.Status = StatusError
		result.Err = err
		return result
	}
	tags := core.EventTags(job.EventType)
	tags["kind"] = string(kind)
	p.instr.Count(ctx, core.MetricEventsDeadLettered, tags)
	fields := withError(jobFields(job), cause)
	fields["kind"] = string(kind)
	p.instr.Error(ctx, "webhook event dead-lettered", fields)

	if p.alerts != nil {
		alert := core.Alert{
			Kind:       core.AlertKindDeadLetter,
			Severity:   core.AlertSeverityCritical,
			JobID:      job.ID,
			EventID:    job.EventID,
			EventType:  job.EventType,
			Attempts:   job.Attempts(),
			Reason:     cause.Error(),
			OccurredAt: p.now(),
			Metadata: map[string]any{
				"failure_kind":  string(kind),
				"attempt_count": job.AttemptCount,
			},
		}
		if err := p.alerts.Emit(bg, alert); err != nil {
			p.instr.Error(ctx, "dead-letter alert emit failed", withError(jobFields(job), err))
		}
	}
	if p.deadLetters != nil {
		if depth, err := p.deadLetters.DeadLetterDepth(bg); err == nil {
			p.instr.Gauge(ctx, core.MetricDeadLetterDepth, float64(depth), nil)
		}
	}
	return result
}

func (p *Processor) policyFor(category core.Category) Policy {
	policy, ok := p.policies[category]
	if !ok {
		return p.defaults
	}
	if policy.Retry == nil {
		policy.Retry = p.defaults.Retry
	}
	if policy.Timeout <= 0 {
		policy.Timeout = p.defaults.Timeout
	}
	return policy
}

func (p *Processor) holderID(job core.QueuedJob) string {
	return fmt.Sprintf("%s:%s:%d", p.owner, job.ID, job.AttemptCount)
}

func (p *Processor) result(job core.QueuedJob, status Status) Result {
	return Result{
		JobID:     job.ID,
		EventID:   job.EventID,
		EventType: job.EventType,
		Status:    status,
		Attempt:   job.AttemptCount,
	}
}

func (p *Processor) hookEvent(job core.QueuedJob, startedAt time.Time, delay time.Duration, err error) core.ProcessingHookEvent {
	return core.ProcessingHookEvent{
		Job:       job,
		Attempt:   job.AttemptCount,
		Delay:     delay,
		Err:       err,
		StartedAt: startedAt,
		Duration:  p.now().Sub(startedAt),
	}
}

func (p *Processor) notify(ctx context.Context, stage string, event core.ProcessingHookEvent) {
	for _, hook := range p.hooks {
		switch stage {
		case "start":
			hook.OnStart(ctx, event)
		case "success":
			hook.OnSuccess(ctx, event)
		case "failure":
			hook.OnFailure(ctx, event)
		case "retry":
			hook.OnRetry(ctx, event)
		}
	}
}

func jobFields(job core.QueuedJob) map[string]any {
	return map[string]any{
		"job_id":     job.ID,
		"event_id":   job.EventID,
		"event_type": job.EventType,
		"attempt":    job.AttemptCount,
	}
}

func withError(fields map[string]any, err error) map[string]any {
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}
