package gozap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-payhooks/core"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"

	requestIDField = "request_id"
)

// Logger implements glog.Logger and glog.FieldsLogger on a zap logger.
type Logger struct {
	base      *zap.Logger
	sugar     *zap.SugaredLogger
	requestID string
}

// New builds a JSON logger for production and a console logger otherwise.
func New(mode string, level string, opts ...zap.Option) (*Logger, error) {
	var config zap.Config
	if strings.EqualFold(strings.TrimSpace(mode), ModeProduction) {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if level = strings.TrimSpace(level); level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("gozap: invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}
	built, err := config.Build(append([]zap.Option{zap.AddCallerSkip(1)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gozap: build logger: %w", err)
	}
	return Wrap(built), nil
}

// Wrap adapts an existing zap logger. A nil logger becomes zap.NewNop.
func Wrap(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{base: logger, sugar: logger.Sugar()}
}

func (l *Logger) Zap() *zap.Logger {
	return l.base
}

func (l *Logger) Sync() error {
	return l.base.Sync()
}

// Trace maps to zap debug; zap has no lower level.
func (l *Logger) Trace(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.sugar.Fatalw(msg, args...)
}

// WithContext binds the request id carried by ctx, once.
func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil || l.requestID != "" {
		return l
	}
	requestID, ok := core.RequestIDFromContext(ctx)
	if !ok {
		return l
	}
	next := l.with(zap.String(requestIDField, requestID))
	next.requestID = requestID
	return next
}

func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key == requestIDField && l.requestID != "" {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return l
	}
	sort.Strings(keys)
	zapFields := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		zapFields = append(zapFields, zap.Any(key, fields[key]))
	}
	next := l.with(zapFields...)
	if id, ok := fields[requestIDField].(string); ok && next.requestID == "" {
		next.requestID = id
	}
	return next
}

func (l *Logger) named(name string) *Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	named := l.base.Named(name)
	return &Logger{base: named, sugar: named.Sugar(), requestID: l.requestID}
}

func (l *Logger) with(fields ...zap.Field) *Logger {
	next := l.base.With(fields...)
	return &Logger{base: next, sugar: next.Sugar(), requestID: l.requestID}
}

// Provider hands out named children of one root logger.
type Provider struct {
	root *Logger
}

func NewProvider(root *Logger) *Provider {
	if root == nil {
		root = Wrap(nil)
	}
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	return p.root.named(name)
}

func (p *Provider) Root() *Logger {
	return p.root
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
