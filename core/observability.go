package core

import (
	"context"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Instrumentation pairs a named logger with a metrics recorder so pipeline
// components log and count through one path.
type Instrumentation struct {
	logger  Logger
	metrics MetricsRecorder
}

func NewInstrumentation(name string, provider LoggerProvider, logger Logger, metrics MetricsRecorder) Instrumentation {
	_, resolved := glog.Resolve(name, provider, logger)
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return Instrumentation{
		logger:  glog.Ensure(resolved),
		metrics: metrics,
	}
}

func (i Instrumentation) Logger() Logger {
	if i.logger == nil {
		return glog.Nop()
	}
	return i.logger
}

func (i Instrumentation) Metrics() MetricsRecorder {
	if i.metrics == nil {
		return NopMetricsRecorder{}
	}
	return i.metrics
}

func (i Instrumentation) Count(ctx context.Context, name string, tags map[string]string) {
	i.Metrics().IncCounter(ctx, strings.TrimSpace(name), 1, cloneTags(tags))
}

func (i Instrumentation) Observe(ctx context.Context, name string, startedAt time.Time, tags map[string]string) {
	elapsed := float64(time.Since(startedAt).Milliseconds())
	i.Metrics().ObserveHistogram(ctx, strings.TrimSpace(name), elapsed, cloneTags(tags))
}

func (i Instrumentation) Gauge(ctx context.Context, name string, value float64, tags map[string]string) {
	i.Metrics().SetGauge(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (i Instrumentation) Info(ctx context.Context, message string, fields map[string]any) {
	i.log(ctx, "info", message, fields)
}

func (i Instrumentation) Warn(ctx context.Context, message string, fields map[string]any) {
	i.log(ctx, "warn", message, fields)
}

func (i Instrumentation) Error(ctx context.Context, message string, fields map[string]any) {
	i.log(ctx, "error", message, fields)
}

func (i Instrumentation) Debug(ctx context.Context, message string, fields map[string]any) {
	i.log(ctx, "debug", message, fields)
}

func (i Instrumentation) log(ctx context.Context, level string, message string, fields map[string]any) {
	logger := i.Logger()
	fields = RedactSensitiveMap(fields)
	if ctx != nil {
		logger = logger.WithContext(ctx)
		if requestID, ok := RequestIDFromContext(ctx); ok {
			fields["request_id"] = requestID
		}
	}
	var args []any
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	} else {
		args = flattenFields(fields)
	}
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

// EventTags are the metric tags shared by every per-event counter.
func EventTags(eventType string) map[string]string {
	eventType = strings.TrimSpace(strings.ToLower(eventType))
	return map[string]string{
		"event_type": eventType,
		"category":   string(CategoryFor(eventType)),
	}
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}
