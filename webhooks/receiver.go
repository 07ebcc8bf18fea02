package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-payhooks/core"
)

// Receipt acknowledges one accepted callback.
type Receipt struct {
	Provider   string
	EventID    string
	EventType  string
	JobID      string
	StatusCode int
}

// Receiver verifies, minimally parses and enqueues inbound callbacks. It never
// runs business logic, so providers get an answer regardless of backlog.
type Receiver struct {
	verifiers map[string]Verifier
	enqueuer  core.Enqueuer
	maxBody   int64
	instr     core.Instrumentation
}

type ReceiverOption func(*Receiver)

func WithVerifier(provider string, verifier Verifier) ReceiverOption {
	return func(r *Receiver) {
		provider = normalizeProvider(provider)
		if provider != "" && verifier != nil {
			r.verifiers[provider] = verifier
		}
	}
}

func WithMaxBodyBytes(limit int64) ReceiverOption {
	return func(r *Receiver) {
		if limit > 0 {
			r.maxBody = limit
		}
	}
}

func WithReceiverInstrumentation(instr core.Instrumentation) ReceiverOption {
	return func(r *Receiver) {
		r.instr = instr
	}
}

func NewReceiver(enqueuer core.Enqueuer, opts ...ReceiverOption) (*Receiver, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("webhooks: enqueuer is required")
	}
	r := &Receiver{
		verifiers: map[string]Verifier{},
		enqueuer:  enqueuer,
		maxBody:   core.DefaultConfig().HTTP.MaxBodyBytes,
		instr:     core.NewInstrumentation("payhooks.webhooks", nil, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if len(r.verifiers) == 0 {
		return nil, fmt.Errorf("webhooks: at least one provider verifier is required")
	}
	return r, nil
}

// NewReceiverFromConfig registers the configured provider's signature verifier.
func NewReceiverFromConfig(cfg core.Config, enqueuer core.Enqueuer, opts ...ReceiverOption) (*Receiver, error) {
	base := []ReceiverOption{
		WithVerifier(cfg.Provider.Name, SignatureVerifier{
			Header:    cfg.Provider.SignatureHeader,
			Secret:    cfg.Provider.SigningSecret,
			Tolerance: cfg.Provider.Tolerance,
		}),
		WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	}
	return NewReceiver(enqueuer, append(base, opts...)...)
}

func (r *Receiver) MaxBodyBytes() int64 {
	return r.maxBody
}

// Receive handles one callback. Returned errors carry the HTTP status the
// caller should answer with: 4xx for rejections, 503 when enqueueing failed.
func (r *Receiver) Receive(ctx context.Context, req Request) (Receipt, error) {
	startedAt := time.Now()
	provider := normalizeProvider(req.Provider)
	tags := map[string]string{"provider": provider}
	r.instr.Count(ctx, core.MetricEventsReceived, tags)

	verifier, ok := r.verifiers[provider]
	if !ok {
		return Receipt{}, r.reject(ctx, provider, "unknown_provider",
			goerrors.New("webhooks: unknown provider "+provider, goerrors.CategoryNotFound).
				WithCode(http.StatusNotFound).
				WithTextCode(core.ErrorNotFound))
	}
	if int64(len(req.Body)) > r.maxBody {
		return Receipt{}, r.reject(ctx, provider, "body_too_large",
			goerrors.New("webhooks: payload exceeds size limit", goerrors.CategoryBadInput).
				WithCode(http.StatusRequestEntityTooLarge).
				WithTextCode(core.ErrorBadInput))
	}
	if err := verifier.Verify(ctx, req); err != nil {
		return Receipt{}, r.reject(ctx, provider, "signature",
			goerrors.Wrap(err, goerrors.CategoryAuth, "webhooks: signature verification failed").
				WithCode(http.StatusUnauthorized).
				WithTextCode(core.ErrorUnauthorized))
	}

	enqueue, err := ParseEvent(req.Body)
	if err != nil {
		return Receipt{}, r.reject(ctx, provider, "malformed", err)
	}

	job, err := r.enqueuer.Enqueue(ctx, enqueue)
	if err != nil {
		fields := map[string]any{
			"provider":   provider,
			"event_id":   enqueue.EventID,
			"event_type": enqueue.EventType,
			"error":      err.Error(),
		}
		r.instr.Error(ctx, "webhook enqueue failed, provider will redeliver", fields)
		return Receipt{}, core.QueueUnavailable(err)
	}

	tags = core.EventTags(enqueue.EventType)
	tags["provider"] = provider
	r.instr.Observe(ctx, "payhooks.ingress.duration_ms", startedAt, tags)
	r.instr.Info(ctx, "webhook event enqueued", map[string]any{
		"provider":   provider,
		"event_id":   enqueue.EventID,
		"event_type": enqueue.EventType,
		"job_id":     job.ID,
	})
	return Receipt{
		Provider:   provider,
		EventID:    enqueue.EventID,
		EventType:  enqueue.EventType,
		JobID:      job.ID,
		StatusCode: http.StatusOK,
	}, nil
}

func (r *Receiver) reject(ctx context.Context, provider string, reason string, err error) error {
	r.instr.Count(ctx, core.MetricEventsRejected, map[string]string{
		"provider": provider,
		"reason":   reason,
	})
	r.instr.Warn(ctx, "webhook request rejected", map[string]any{
		"provider": provider,
		"reason":   reason,
		"error":    err.Error(),
	})
	return err
}

// ParseEvent extracts the fields ingress needs from a verified payload. The
// raw body is kept byte for byte as the job payload.
func ParseEvent(body []byte) (core.EnqueueRequest, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		var syntaxErr *json.SyntaxError
		message := "webhooks: payload is not valid JSON"
		if errors.As(err, &syntaxErr) {
			message = fmt.Sprintf("%s at offset %d", message, syntaxErr.Offset)
		}
		return core.EnqueueRequest{}, badInput(err, message)
	}
	eventID := strings.TrimSpace(envelope.ID)
	eventType := strings.TrimSpace(envelope.Type)
	if eventID == "" || eventType == "" {
		return core.EnqueueRequest{}, badInput(nil, "webhooks: event id and type are required")
	}
	return core.EnqueueRequest{
		EventID:   eventID,
		EventType: eventType,
		Payload:   append([]byte(nil), body...),
	}, nil
}

func badInput(source error, message string) error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput)
	}
	return goerrors.Wrap(source, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
