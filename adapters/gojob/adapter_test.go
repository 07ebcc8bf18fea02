package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/processor"
	memorystore "github.com/goliatone/go-payhooks/store/memory"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	queued := core.QueuedJob{
		ID:           "job_1",
		EventID:      "evt_1",
		EventType:    "invoice.paid",
		AttemptCount: 2,
	}

	msg := ToExecutionMessage(queued)
	if msg.JobID != JobIDProcessWebhook {
		t.Fatalf("expected job id %q, got %q", JobIDProcessWebhook, msg.JobID)
	}
	if msg.ScriptPath != "payhooks/payment" {
		t.Fatalf("expected category script path, got %q", msg.ScriptPath)
	}
	if msg.IdempotencyKey != "evt_1" {
		t.Fatalf("expected event id idempotency key, got %q", msg.IdempotencyKey)
	}

	ref, ok := FromExecutionMessage(msg)
	if !ok {
		t.Fatalf("expected job reference")
	}
	if ref.JobID != "job_1" || ref.EventID != "evt_1" || ref.EventType != "invoice.paid" || ref.Attempt != 2 {
		t.Fatalf("unexpected job reference %+v", ref)
	}

	if _, ok := FromExecutionMessage(&job.ExecutionMessage{JobID: JobIDRetentionSweep}); ok {
		t.Fatalf("expected foreign job ids to be rejected")
	}
	if _, ok := FromExecutionMessage(nil); ok {
		t.Fatalf("expected nil message to be rejected")
	}
}

func TestNotifyingEnqueuer_PublishesAfterDurableWrite(t *testing.T) {
	ctx := context.Background()
	store := memorystore.New()
	publisher := &stubQueueEnqueuer{}
	enqueuer := NewNotifyingEnqueuer(store, publisher, core.Instrumentation{})

	queued, err := enqueuer.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "charge.refunded", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if publisher.last == nil || publisher.last.Parameters["job_id"] != queued.ID {
		t.Fatalf("expected wake-up message for job %q, got %+v", queued.ID, publisher.last)
	}
	if len(store.Jobs()) != 1 {
		t.Fatalf("expected durable job stored")
	}
}

func TestNotifyingEnqueuer_PublishFailureIsNotReturned(t *testing.T) {
	store := memorystore.New()
	publisher := &stubQueueEnqueuer{err: errors.New("broker down")}
	enqueuer := NewNotifyingEnqueuer(store, publisher, core.Instrumentation{})

	if _, err := enqueuer.Enqueue(context.Background(), core.EnqueueRequest{EventID: "evt_1", EventType: "payout.paid"}); err != nil {
		t.Fatalf("expected durable enqueue to succeed, got %v", err)
	}
	if len(store.Jobs()) != 1 {
		t.Fatalf("expected durable job stored despite publish failure")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	first := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if first.Delay != 10*time.Second || !first.Requeue || first.Reason != "transient" {
		t.Fatalf("expected bounded requeue, got %+v", first)
	}

	last := policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", last)
	}

	neither := RetryPolicy{}.NormalizeAttempt(queue.NackOptions{Delay: -time.Second}, 1)
	if !neither.Requeue || neither.Delay != 0 {
		t.Fatalf("expected default requeue with clamped delay, got %+v", neither)
	}
}

func TestConsumer_AcksDeliveryAfterProcessing(t *testing.T) {
	ctx := context.Background()
	store := memorystore.New()
	proc := newProcessor(t, store)
	queued, err := store.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "ping.unknown", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	delivery := &stubQueueDelivery{msg: ToExecutionMessage(queued)}
	consumer := NewConsumer(&stubQueueDequeuer{delivery: delivery}, proc, RetryPolicy{}, 0)
	result, ok, err := consumer.ConsumeOnce(ctx)
	if err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	if result.Status != processor.StatusIgnored {
		t.Fatalf("expected unknown event ignored, got %s", result.Status)
	}
	if !delivery.acked {
		t.Fatalf("expected delivery acked")
	}
}

func TestConsumer_NacksDeliveryWhenQueueFails(t *testing.T) {
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(core.QueuedJob{ID: "job_1", EventID: "evt_1", AttemptCount: 4})}
	consumer := NewConsumer(
		&stubQueueDequeuer{delivery: delivery},
		failingProcessor{err: core.QueueUnavailable(errors.New("db down"))},
		RetryPolicy{MaxAttempts: 5, MaxDelay: time.Minute, DeadLetterOnMax: true},
		2*time.Second,
	)

	if _, _, err := consumer.ConsumeOnce(context.Background()); err == nil {
		t.Fatalf("expected processing error")
	}
	if delivery.acked {
		t.Fatalf("expected no ack on failure")
	}
	if !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead-letter nack once attempts reach the bound, got %+v", delivery.nackOpts)
	}
}

func TestHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	workerHook := &capturingWorkerHook{}
	adapter := NewHookAdapter(workerHook)

	adapter.OnRetry(context.Background(), core.ProcessingHookEvent{
		Job:       core.QueuedJob{ID: "job_1", EventID: "evt_1", EventType: "account.updated"},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	})

	if workerHook.last.Message == nil || workerHook.last.Message.IdempotencyKey != "evt_1" {
		t.Fatalf("expected message mapping, got %+v", workerHook.last.Message)
	}
	if workerHook.last.Attempt != 2 || workerHook.last.Delay != 5*time.Second {
		t.Fatalf("expected attempt and delay mapping, got %+v", workerHook.last)
	}
	if workerHook.last.Err == nil || workerHook.last.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
	if !workerHook.last.StartedAt.Equal(now) || workerHook.last.Duration != 250*time.Millisecond {
		t.Fatalf("expected timing mapping")
	}
}

func newProcessor(t *testing.T, store *memorystore.Store) *processor.Processor {
	t.Helper()
	proc, err := processor.New(processor.Dependencies{
		Queue:       store,
		Idempotency: store,
		Locks:       store,
		Finalizer:   store,
		Handlers:    emptyResolver{},
		DeadLetters: store,
	}, processor.WithOwner("worker-gojob"))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return proc
}

type emptyResolver struct{}

func (emptyResolver) Resolve(core.Category) (core.Handler, bool) {
	return nil, false
}

type failingProcessor struct {
	err error
}

func (p failingProcessor) ProcessNext(context.Context) (processor.Result, bool, error) {
	return processor.Result{}, false, p.err
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
	err  error
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return s.err
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingWorkerHook struct {
	last worker.Event
}

func (h *capturingWorkerHook) OnStart(context.Context, worker.Event)   {}
func (h *capturingWorkerHook) OnSuccess(context.Context, worker.Event) {}
func (h *capturingWorkerHook) OnFailure(context.Context, worker.Event) {}
func (h *capturingWorkerHook) OnRetry(_ context.Context, event worker.Event) {
	h.last = event
}

var _ worker.Hook = (*capturingWorkerHook)(nil)
