package webhooks

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-payhooks/core"
	memorystore "github.com/goliatone/go-payhooks/store/memory"
)

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, core.EnqueueRequest) (core.QueuedJob, error) {
	return core.QueuedJob{}, errors.New("connection refused")
}

func newTestReceiver(t *testing.T, enqueuer core.Enqueuer) *Receiver {
	t.Helper()
	receiver, err := NewReceiver(enqueuer,
		WithVerifier("stripe", SignatureVerifier{Secret: testSecret, Tolerance: DefaultTolerance}),
		WithMaxBodyBytes(1024),
	)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	return receiver
}

func signedRequest(body []byte, now time.Time) Request {
	return Request{
		Provider: "stripe",
		Headers:  map[string]string{DefaultSignatureHeader: ComputeSignatureHeader(body, testSecret, now)},
		Body:     body,
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error, got %T: %v", err, err)
	}
	return richErr.Code
}

func TestReceiver_EnqueuesVerifiedEventVerbatim(t *testing.T) {
	now := time.Now()
	store := memorystore.New()
	receiver := newTestReceiver(t, store)

	receipt, err := receiver.Receive(context.Background(), signedRequest(testBody, now))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if receipt.StatusCode != http.StatusOK || receipt.EventID != "evt_1" || receipt.EventType != "invoice.paid" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	jobs := store.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(jobs))
	}
	if string(jobs[0].Payload) != string(testBody) || jobs[0].Status != core.JobStatusPending {
		t.Fatalf("expected raw payload queued as pending, got %+v", jobs[0])
	}
}

func TestReceiver_BadSignatureNeverEnqueues(t *testing.T) {
	now := time.Now()
	store := memorystore.New()
	receiver := newTestReceiver(t, store)

	req := signedRequest(testBody, now)
	req.Headers[DefaultSignatureHeader] = ComputeSignatureHeader(testBody, "whsec_forged", now)
	_, err := receiver.Receive(context.Background(), req)
	if statusOf(t, err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if core.ClassifyFailure(err) != core.FailureKindPermanent {
		t.Fatalf("expected signature rejection to be non-retryable")
	}
	if len(store.Jobs()) != 0 {
		t.Fatalf("expected nothing enqueued")
	}
}

func TestReceiver_RejectsMalformedAndOversizedPayloads(t *testing.T) {
	now := time.Now()
	store := memorystore.New()
	receiver := newTestReceiver(t, store)

	for _, body := range [][]byte{
		[]byte(`{"object":"event","type":"invoice.paid"}`),
		[]byte(`{"id":"evt_1"}`),
		[]byte(`not json`),
	} {
		_, err := receiver.Receive(context.Background(), signedRequest(body, now))
		if statusOf(t, err) != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %v", body, err)
		}
	}

	large := make([]byte, 2048)
	_, err := receiver.Receive(context.Background(), signedRequest(large, now))
	if statusOf(t, err) != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}

	_, err = receiver.Receive(context.Background(), Request{Provider: "paypal", Body: testBody})
	if statusOf(t, err) != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %v", err)
	}
	if len(store.Jobs()) != 0 {
		t.Fatalf("expected nothing enqueued")
	}
}

func TestReceiver_EnqueueFailureAsksProviderToRetry(t *testing.T) {
	now := time.Now()
	receiver := newTestReceiver(t, failingEnqueuer{})

	_, err := receiver.Receive(context.Background(), signedRequest(testBody, now))
	if statusOf(t, err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestParseEvent_RequiresIDAndType(t *testing.T) {
	req, err := ParseEvent(testBody)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if req.EventID != "evt_1" || req.EventType != "invoice.paid" {
		t.Fatalf("unexpected parse result %+v", req)
	}
	if _, err := ParseEvent([]byte(`{"id":" ","type":"invoice.paid"}`)); err == nil {
		t.Fatalf("expected blank id to be rejected")
	}
}
