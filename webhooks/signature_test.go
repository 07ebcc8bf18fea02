package webhooks

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v74/webhook"
)

const testSecret = "whsec_test_secret"

var testBody = []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)

func TestVerifySignature_AcceptsProviderSignedPayload(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: testBody,
		Secret:  testSecret,
	})
	if err := VerifySignature(signed.Payload, signed.Header, testSecret, DefaultTolerance); err != nil {
		t.Fatalf("expected provider signature to verify: %v", err)
	}
	local := ComputeSignatureHeader(testBody, testSecret, signed.Timestamp)
	if err := VerifySignature(testBody, local, testSecret, DefaultTolerance); err != nil {
		t.Fatalf("expected local header to verify: %v", err)
	}
}

func TestVerifySignature_AcceptsAnyRotatedSecret(t *testing.T) {
	now := time.Now()
	old := webhook.ComputeSignature(now, testBody, "whsec_old")
	current := webhook.ComputeSignature(now, testBody, testSecret)
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s,v0=ignored", now.Unix(), hex.EncodeToString(old), hex.EncodeToString(current))

	if err := VerifySignature(testBody, header, testSecret, DefaultTolerance); err != nil {
		t.Fatalf("expected second v1 entry to verify: %v", err)
	}
}

func TestVerifySignature_RejectsTamperedAndMalformedInput(t *testing.T) {
	now := time.Now()
	header := ComputeSignatureHeader(testBody, testSecret, now)

	cases := map[string]struct {
		body   []byte
		header string
		secret string
		want   error
	}{
		"tampered body":  {body: append(append([]byte(nil), testBody...), ' '), header: header, secret: testSecret, want: ErrNoValidSignature},
		"wrong secret":   {body: testBody, header: header, secret: "whsec_other", want: ErrNoValidSignature},
		"missing header": {body: testBody, header: "", secret: testSecret, want: ErrMissingSignature},
		"no timestamp":   {body: testBody, header: "v1=abcd", secret: testSecret, want: ErrTimestampTolerance},
		"garbage":        {body: testBody, header: "not-a-header", secret: testSecret, want: ErrInvalidHeader},
		"bad timestamp":  {body: testBody, header: "t=soon,v1=abcd", secret: testSecret, want: ErrInvalidHeader},
		"no v1 entry":    {body: testBody, header: fmt.Sprintf("t=%d", now.Unix()), secret: testSecret, want: ErrNoValidSignature},
		"missing secret": {body: testBody, header: header, secret: "", want: ErrMissingSecret},
	}
	for name, tc := range cases {
		err := VerifySignature(tc.body, tc.header, tc.secret, DefaultTolerance)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestVerifySignature_EnforcesTolerance(t *testing.T) {
	header := ComputeSignatureHeader(testBody, testSecret, time.Now().Add(-6*time.Minute))

	err := VerifySignature(testBody, header, testSecret, 5*time.Minute)
	if !errors.Is(err, ErrTimestampTolerance) {
		t.Fatalf("expected expired timestamp rejection, got %v", err)
	}
	if err := VerifySignature(testBody, header, testSecret, 0); err != nil {
		t.Fatalf("expected zero tolerance to skip the timestamp check: %v", err)
	}
}

func TestSignatureVerifier_ReadsHeaderCaseInsensitively(t *testing.T) {
	verifier := SignatureVerifier{Secret: testSecret, Tolerance: DefaultTolerance}
	req := Request{
		Provider: "stripe",
		Headers:  map[string]string{"stripe-signature": ComputeSignatureHeader(testBody, testSecret, time.Now())},
		Body:     testBody,
	}
	if err := verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("expected verification to pass: %v", err)
	}
}

func TestSignatureVerifier_CustomHeader(t *testing.T) {
	verifier := SignatureVerifier{Header: "X-Payhooks-Signature", Secret: testSecret, Tolerance: DefaultTolerance}
	header := ComputeSignatureHeader(testBody, testSecret, time.Now())

	req := Request{Headers: map[string]string{"X-Payhooks-Signature": header}, Body: testBody}
	if err := verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("expected custom header to verify: %v", err)
	}
	req = Request{Headers: map[string]string{DefaultSignatureHeader: header}, Body: testBody}
	if err := verifier.Verify(context.Background(), req); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected the default header to be ignored, got %v", err)
	}
}
