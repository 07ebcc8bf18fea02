package core

import "testing"

func TestRedactSensitiveMapPreservesCorrelationFields(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"event_id":         "evt_1",
		"request_id":       "req_1",
		"idempotency_key":  "evt_1",
		"signing_secret":   "whsec_live",
		"Stripe-Signature": "t=1,v1=abc",
		"admin_token":      "token",
		"nested":           map[string]any{"authorization": "Bearer x", "job_id": "job_1"},
		"attempts":         []any{map[string]any{"api_key": "key_1"}, map[string]any{"lock_key": "lease:1"}},
	})

	if redacted["event_id"] != "evt_1" || redacted["idempotency_key"] != "evt_1" {
		t.Fatalf("expected correlation ids to remain visible, got %#v", redacted)
	}
	for _, key := range []string{"signing_secret", "Stripe-Signature", "admin_token"} {
		if redacted[key] != RedactedValue {
			t.Fatalf("expected %s to be redacted, got %#v", key, redacted[key])
		}
	}
	nested, ok := redacted["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested redacted map")
	}
	if nested["authorization"] != RedactedValue || nested["job_id"] != "job_1" {
		t.Fatalf("unexpected nested map %#v", nested)
	}
	attempts := redacted["attempts"].([]any)
	if attempts[0].(map[string]any)["api_key"] != RedactedValue {
		t.Fatalf("expected api_key inside slice to be redacted")
	}
	if attempts[1].(map[string]any)["lock_key"] != "lease:1" {
		t.Fatalf("expected lock_key inside slice to remain visible")
	}
}

func TestRedactSensitiveMapEmpty(t *testing.T) {
	if got := RedactSensitiveMap(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty map, got %#v", got)
	}
}
