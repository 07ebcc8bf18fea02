package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	goredis "github.com/redis/go-redis/v9"
)

// LogSink writes alerts to the structured log. It is the default channel when
// no external alerting is configured.
type LogSink struct {
	instr core.Instrumentation
}

func NewLogSink(provider core.LoggerProvider, logger core.Logger) LogSink {
	return LogSink{instr: core.NewInstrumentation("payhooks.alerts", provider, logger, nil)}
}

func (s LogSink) Emit(ctx context.Context, alert core.Alert) error {
	fields := alertFields(alert)
	if alert.Severity == core.AlertSeverityCritical {
		s.instr.Error(ctx, "payhooks alert", fields)
		return nil
	}
	s.instr.Warn(ctx, "payhooks alert", fields)
	return nil
}

// MultiSink fans one alert out to every sink and joins their failures.
type MultiSink []core.AlertSink

func (m MultiSink) Emit(ctx context.Context, alert core.Alert) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher is the part of a redis client RedisSink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// RedisSink publishes alerts as JSON on a pub/sub channel for on-call tooling.
type RedisSink struct {
	client  Publisher
	channel string
}

func NewRedisSink(client Publisher, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("alerting: redis client is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = core.DefaultConfig().Redis.Channel
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (s *RedisSink) Emit(ctx context.Context, alert core.Alert) error {
	payload, err := json.Marshal(alertMessage(alert))
	if err != nil {
		return fmt.Errorf("alerting: encode alert: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return core.Transient(err, "alerting: publish alert")
	}
	return nil
}

// Message is the wire shape of a published alert.
type Message struct {
	Kind       string         `json:"kind"`
	Severity   string         `json:"severity"`
	JobID      string         `json:"job_id,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	EventType  string         `json:"event_type,omitempty"`
	LockKey    string         `json:"lock_key,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func alertMessage(alert core.Alert) Message {
	return Message{
		Kind:       string(alert.Kind),
		Severity:   string(alert.Severity),
		JobID:      alert.JobID,
		EventID:    alert.EventID,
		EventType:  alert.EventType,
		LockKey:    alert.LockKey,
		Attempts:   alert.Attempts,
		Reason:     alert.Reason,
		OccurredAt: alert.OccurredAt.UTC(),
		Metadata:   alert.Metadata,
	}
}

func alertFields(alert core.Alert) map[string]any {
	fields := map[string]any{
		"alert_kind": string(alert.Kind),
		"severity":   string(alert.Severity),
	}
	for key, value := range map[string]string{
		"job_id":     alert.JobID,
		"event_id":   alert.EventID,
		"event_type": alert.EventType,
		"lock_key":   alert.LockKey,
		"reason":     alert.Reason,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if alert.Attempts > 0 {
		fields["attempts"] = alert.Attempts
	}
	for key, value := range alert.Metadata {
		if _, exists := fields[key]; !exists {
			fields[key] = value
		}
	}
	return fields
}

var (
	_ core.AlertSink = LogSink{}
	_ core.AlertSink = MultiSink{}
	_ core.AlertSink = (*RedisSink)(nil)
)
