package alerting

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

type StormOptions struct {
	Threshold  int
	Window     time.Duration
	MaxEntries int
	Now        func() time.Time
}

type stormEntry struct {
	windowStart time.Time
	count       int
	fired       bool
}

// StormDetector counts lock contention per key in a fixed window and raises one
// lock_contention_storm alert when a key reaches the threshold. It stays quiet
// for that key until the window resets.
type StormDetector struct {
	sink       core.AlertSink
	threshold  int
	window     time.Duration
	maxEntries int
	now        func() time.Time
	instr      core.Instrumentation

	mu      sync.Mutex
	entries map[string]*stormEntry
}

func NewStormDetector(sink core.AlertSink, opts StormOptions) *StormDetector {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = core.DefaultConfig().Alerts.LockStormThreshold
	}
	window := opts.Window
	if window <= 0 {
		window = core.DefaultConfig().Alerts.LockStormWindow
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StormDetector{
		sink:       sink,
		threshold:  threshold,
		window:     window,
		maxEntries: maxEntries,
		now:        now,
		instr:      core.NewInstrumentation("payhooks.alerts.storm", nil, nil, nil),
		entries:    map[string]*stormEntry{},
	}
}

// NewStormDetectorFromConfig reads threshold and window from the alerts section.
func NewStormDetectorFromConfig(cfg core.Config, sink core.AlertSink) *StormDetector {
	return NewStormDetector(sink, StormOptions{
		Threshold: cfg.Alerts.LockStormThreshold,
		Window:    cfg.Alerts.LockStormWindow,
	})
}

func (d *StormDetector) WithInstrumentation(instr core.Instrumentation) *StormDetector {
	if d != nil {
		d.instr = instr
	}
	return d
}

func (d *StormDetector) ObserveContention(ctx context.Context, lockKey string, event core.Event) {
	if d == nil {
		return
	}
	lockKey = strings.TrimSpace(lockKey)
	if lockKey == "" {
		return
	}
	alert, fire := d.record(lockKey, event)
	if !fire || d.sink == nil {
		return
	}
	if err := d.sink.Emit(ctx, alert); err != nil {
		d.instr.Error(ctx, "lock contention storm alert failed", map[string]any{
			"lock_key": lockKey,
			"error":    err.Error(),
		})
	}
}

func (d *StormDetector) record(lockKey string, event core.Event) (core.Alert, bool) {
	now := d.now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[lockKey]
	if !ok || now.Sub(entry.windowStart) >= d.window {
		entry = &stormEntry{windowStart: now}
		d.entries[lockKey] = entry
		d.cleanup(now, lockKey)
	}
	entry.count++
	if entry.fired || entry.count < d.threshold {
		return core.Alert{}, false
	}
	entry.fired = true
	return core.Alert{
		Kind:       core.AlertKindLockContentionStorm,
		Severity:   core.AlertSeverityWarning,
		EventID:    event.ID,
		EventType:  event.Type,
		LockKey:    lockKey,
		Reason:     "lock contention reached threshold within window",
		OccurredAt: now,
		Metadata: map[string]any{
			"contentions": entry.count,
			"window_ms":   d.window.Milliseconds(),
		},
	}, true
}

// cleanup drops expired windows, then the oldest live ones, until the map is
// back within maxEntries. keep is never evicted.
func (d *StormDetector) cleanup(now time.Time, keep string) {
	if len(d.entries) <= d.maxEntries {
		return
	}
	live := make([]string, 0, len(d.entries))
	for key, entry := range d.entries {
		if key != keep && now.Sub(entry.windowStart) >= d.window {
			delete(d.entries, key)
			continue
		}
		if key != keep {
			live = append(live, key)
		}
	}
	excess := len(d.entries) - d.maxEntries
	if excess <= 0 {
		return
	}
	sort.Slice(live, func(i, j int) bool {
		return d.entries[live[i]].windowStart.Before(d.entries[live[j]].windowStart)
	})
	for _, key := range live[:excess] {
		delete(d.entries, key)
	}
}

var _ core.ContentionObserver = (*StormDetector)(nil)
