package webhooks

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74/webhook"
)

const (
	DefaultSignatureHeader = "Stripe-Signature"
	DefaultTolerance       = 5 * time.Minute
)

var (
	ErrMissingSignature   = errors.New("webhooks: signature header is required")
	ErrInvalidHeader      = errors.New("webhooks: signature header is malformed")
	ErrNoValidSignature   = errors.New("webhooks: no signature matches the payload")
	ErrTimestampTolerance = errors.New("webhooks: signature timestamp outside tolerance")
	ErrMissingSecret      = errors.New("webhooks: signing secret is required")
)

// Request is one inbound callback as received on the wire.
type Request struct {
	Provider string
	Headers  map[string]string
	Body     []byte
}

// Verifier authenticates an inbound request before any side effect.
type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against the raw body
// with the provider SDK. Any v1 entry may match so secrets can rotate. A zero
// tolerance disables the timestamp check.
func VerifySignature(rawBody []byte, header string, secret string, tolerance time.Duration) error {
	if strings.TrimSpace(secret) == "" {
		return ErrMissingSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	var err error
	if tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(rawBody, header, secret, tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(rawBody, header, secret)
	}
	return mapSignatureError(err)
}

func mapSignatureError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned):
		return ErrMissingSignature
	case errors.Is(err, webhook.ErrInvalidHeader):
		return ErrInvalidHeader
	case errors.Is(err, webhook.ErrTooOld):
		return ErrTimestampTolerance
	case errors.Is(err, webhook.ErrNoValidSignature):
		return ErrNoValidSignature
	default:
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
}

// Verify is the boolean form of VerifySignature with the default tolerance.
func Verify(rawBody []byte, header string, secret string) bool {
	return VerifySignature(rawBody, header, secret, DefaultTolerance) == nil
}

// ComputeSignatureHeader signs a body the way the provider does, for tests and
// tooling that re-deliver payloads.
func ComputeSignatureHeader(rawBody []byte, secret string, at time.Time) string {
	signature := webhook.ComputeSignature(at, rawBody, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(signature))
}

// SignatureVerifier verifies the timestamped provider signature scheme.
type SignatureVerifier struct {
	Header    string
	Secret    string
	Tolerance time.Duration
}

func (v SignatureVerifier) Verify(_ context.Context, req Request) error {
	header := strings.TrimSpace(v.Header)
	if header == "" {
		header = DefaultSignatureHeader
	}
	return VerifySignature(req.Body, headerValue(req.Headers, header), v.Secret, v.Tolerance)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[key]; ok {
		return value
	}
	for candidate, value := range headers {
		if strings.EqualFold(candidate, key) {
			return value
		}
	}
	return ""
}

var _ Verifier = SignatureVerifier{}
