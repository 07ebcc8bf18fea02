package core

import "strings"

const RedactedValue = "[REDACTED]"

var sensitiveKeyTokens = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"access_key",
	"credential",
	"signature",
	"dsn",
}

// RedactSensitiveMap returns a copy of fields with secret-looking values
// replaced by RedactedValue. Nested maps and slices are walked.
func RedactSensitiveMap(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(fields)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range sensitiveKeyTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

// isTraceabilityKey keeps correlation ids readable even when their names
// overlap a sensitive token.
func isTraceabilityKey(key string) bool {
	switch key {
	case "request_id",
		"trace_id",
		"event_id",
		"event_type",
		"job_id",
		"idempotency_key",
		"lock_key",
		"holder_id",
		"provider":
		return true
	default:
		return false
	}
}
