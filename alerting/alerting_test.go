package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []core.Alert
	err    error
}

func (s *recordingSink) Emit(_ context.Context, alert core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	p.channel = channel
	p.payload, _ = message.([]byte)
	cmd := goredis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	}
	return cmd
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestStormDetector_FiresOncePerWindowAtThreshold(t *testing.T) {
	sink := &recordingSink{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	detector := NewStormDetector(sink, StormOptions{Threshold: 3, Window: time.Minute, Now: clock.Now})
	event := core.Event{ID: "evt_1", Type: "customer.subscription.updated"}

	for i := 0; i < 2; i++ {
		detector.ObserveContention(context.Background(), "lease:1", event)
	}
	assert.Equal(t, 0, sink.count())

	detector.ObserveContention(context.Background(), "lease:1", event)
	require.Equal(t, 1, sink.count())
	alert := sink.alerts[0]
	assert.Equal(t, core.AlertKindLockContentionStorm, alert.Kind)
	assert.Equal(t, "lease:1", alert.LockKey)
	assert.Equal(t, "evt_1", alert.EventID)
	assert.Equal(t, 3, alert.Metadata["contentions"])

	for i := 0; i < 5; i++ {
		detector.ObserveContention(context.Background(), "lease:1", event)
	}
	assert.Equal(t, 1, sink.count(), "detector should stay quiet for the rest of the window")

	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		detector.ObserveContention(context.Background(), "lease:1", event)
	}
	assert.Equal(t, 2, sink.count(), "a new window may fire again")
}

func TestStormDetector_CountsKeysIndependently(t *testing.T) {
	sink := &recordingSink{}
	detector := NewStormDetector(sink, StormOptions{Threshold: 2, Window: time.Minute})

	detector.ObserveContention(context.Background(), "lease:1", core.Event{})
	detector.ObserveContention(context.Background(), "lease:2", core.Event{})
	detector.ObserveContention(context.Background(), " ", core.Event{})
	assert.Equal(t, 0, sink.count())

	detector.ObserveContention(context.Background(), "lease:2", core.Event{})
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "lease:2", sink.alerts[0].LockKey)
}

func TestStormDetector_EvictsOldestKeysPastCapacity(t *testing.T) {
	sink := &recordingSink{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	detector := NewStormDetector(sink, StormOptions{Threshold: 2, Window: time.Hour, MaxEntries: 3, Now: clock.Now})

	for _, key := range []string{"lease:1", "lease:2", "lease:3", "lease:4", "lease:5"} {
		detector.ObserveContention(context.Background(), key, core.Event{})
		clock.Advance(time.Second)
	}
	detector.mu.Lock()
	keys := make([]string, 0, len(detector.entries))
	for key := range detector.entries {
		keys = append(keys, key)
	}
	detector.mu.Unlock()
	assert.ElementsMatch(t, []string{"lease:3", "lease:4", "lease:5"}, keys)

	detector.ObserveContention(context.Background(), "lease:5", core.Event{})
	require.Equal(t, 1, sink.count(), "the newest key keeps its count")
	assert.Equal(t, "lease:5", sink.alerts[0].LockKey)
}

func TestStormDetector_UsesConfiguredAlertSettings(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Alerts.LockStormThreshold = 1
	sink := &recordingSink{}
	detector := NewStormDetectorFromConfig(cfg, sink)

	detector.ObserveContention(context.Background(), "lease:9", core.Event{ID: "evt_9"})
	assert.Equal(t, 1, sink.count())
}

func TestMultiSink_DeliversToAllAndJoinsErrors(t *testing.T) {
	failing := &recordingSink{err: errors.New("pager down")}
	healthy := &recordingSink{}
	sink := MultiSink{failing, nil, healthy}

	err := sink.Emit(context.Background(), core.Alert{Kind: core.AlertKindDeadLetter})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pager down")
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())
}

func TestRedisSink_PublishesJSONAlert(t *testing.T) {
	publisher := &fakePublisher{}
	sink, err := NewRedisSink(publisher, "")
	require.NoError(t, err)

	occurredAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = sink.Emit(context.Background(), core.Alert{
		Kind:       core.AlertKindDeadLetter,
		Severity:   core.AlertSeverityCritical,
		JobID:      "job_1",
		EventID:    "evt_1",
		EventType:  "invoice.paid",
		Attempts:   5,
		Reason:     "handler failed",
		OccurredAt: occurredAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "payhooks:alerts", publisher.channel)

	var message Message
	require.NoError(t, json.Unmarshal(publisher.payload, &message))
	assert.Equal(t, "dead_letter", message.Kind)
	assert.Equal(t, "critical", message.Severity)
	assert.Equal(t, "job_1", message.JobID)
	assert.Equal(t, 5, message.Attempts)
	assert.True(t, occurredAt.Equal(message.OccurredAt))
}

func TestRedisSink_PublishFailureIsTransient(t *testing.T) {
	sink, err := NewRedisSink(&fakePublisher{err: errors.New("connection refused")}, "alerts")
	require.NoError(t, err)

	err = sink.Emit(context.Background(), core.Alert{Kind: core.AlertKindDeadLetter})
	require.Error(t, err)
	assert.Equal(t, core.FailureKindTransient, core.ClassifyFailure(err))
}

func TestNewRedisSink_RequiresClient(t *testing.T) {
	_, err := NewRedisSink(nil, "alerts")
	assert.Error(t, err)
}

func TestLogSink_NeverFails(t *testing.T) {
	sink := NewLogSink(nil, nil)
	assert.NoError(t, sink.Emit(context.Background(), core.Alert{
		Kind:     core.AlertKindDeadLetter,
		Severity: core.AlertSeverityCritical,
		Metadata: map[string]any{"category": "payment"},
	}))
}
