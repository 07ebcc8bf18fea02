package core

import "context"

const (
	MetricEventsReceived     = "payhooks.events.received"
	MetricEventsRejected     = "payhooks.events.rejected"
	MetricEventsProcessed    = "payhooks.events.processed"
	MetricEventsDuplicate    = "payhooks.events.duplicate"
	MetricEventsIgnored      = "payhooks.events.ignored"
	MetricEventsFailed       = "payhooks.events.failed"
	MetricEventsRetried      = "payhooks.events.retried"
	MetricEventsDeadLettered = "payhooks.events.dead_lettered"
	MetricLockContended      = "payhooks.locks.contended"
	MetricProcessingLatency  = "payhooks.processing.duration_ms"
	MetricDeadLetterDepth    = "payhooks.dead_letter.depth"
	MetricSweepRemoved       = "payhooks.sweep.removed"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (NopMetricsRecorder) SetGauge(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
