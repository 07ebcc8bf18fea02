package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticConfigLoader serves a fixed raw configuration map.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig loads raw values over the defaults and applies runtime overrides last.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	putString(layer, "service_name", cfg.ServiceName, includeZero)
	putString(layer, "environment", cfg.Environment, includeZero)
	putDuration(layer, "handler_timeout", cfg.HandlerTimeout, includeZero)

	provider := map[string]any{}
	putString(provider, "name", cfg.Provider.Name, includeZero)
	putString(provider, "signing_secret", cfg.Provider.SigningSecret, includeZero)
	putString(provider, "signature_header", cfg.Provider.SignatureHeader, includeZero)
	putDuration(provider, "tolerance", cfg.Provider.Tolerance, includeZero)
	putSection(layer, "provider", provider)

	queue := map[string]any{}
	putInt(queue, "workers", cfg.Queue.Workers, includeZero)
	putDuration(queue, "poll_interval", cfg.Queue.PollInterval, includeZero)
	putDuration(queue, "visibility_timeout", cfg.Queue.VisibilityTimeout, includeZero)
	putDuration(queue, "drain_timeout", cfg.Queue.DrainTimeout, includeZero)
	putSection(layer, "queue", queue)

	retry := map[string]any{}
	putDuration(retry, "base_delay", cfg.Retry.BaseDelay, includeZero)
	putFloat(retry, "multiplier", cfg.Retry.Multiplier, includeZero)
	putDuration(retry, "max_delay", cfg.Retry.MaxDelay, includeZero)
	putInt(retry, "max_attempts", cfg.Retry.MaxAttempts, includeZero)
	putSection(layer, "retry", retry)

	if includeZero || len(cfg.Categories) > 0 {
		categories := map[string]any{}
		for name, override := range cfg.Categories {
			entry := map[string]any{}
			putDuration(entry, "timeout", override.Timeout, includeZero)
			putDuration(entry, "base_delay", override.BaseDelay, includeZero)
			putFloat(entry, "multiplier", override.Multiplier, includeZero)
			putDuration(entry, "max_delay", override.MaxDelay, includeZero)
			putInt(entry, "max_attempts", override.MaxAttempts, includeZero)
			categories[strings.TrimSpace(strings.ToLower(name))] = entry
		}
		layer["categories"] = categories
	}

	locks := map[string]any{}
	putDuration(locks, "ttl", cfg.Locks.TTL, includeZero)
	putSection(layer, "locks", locks)

	retention := map[string]any{}
	putDuration(retention, "processed_events", cfg.Retention.ProcessedEvents, includeZero)
	putDuration(retention, "processed_jobs", cfg.Retention.ProcessedJobs, includeZero)
	putDuration(retention, "dead_letters", cfg.Retention.DeadLetters, includeZero)
	putDuration(retention, "sweep_interval", cfg.Retention.SweepInterval, includeZero)
	putSection(layer, "retention", retention)

	alerts := map[string]any{}
	putInt(alerts, "lock_storm_threshold", cfg.Alerts.LockStormThreshold, includeZero)
	putDuration(alerts, "lock_storm_window", cfg.Alerts.LockStormWindow, includeZero)
	putSection(layer, "alerts", alerts)

	httpLayer := map[string]any{}
	putString(httpLayer, "addr", cfg.HTTP.Addr, includeZero)
	if includeZero || cfg.HTTP.MaxBodyBytes != 0 {
		httpLayer["max_body_bytes"] = cfg.HTTP.MaxBodyBytes
	}
	putString(httpLayer, "admin_token", cfg.HTTP.AdminToken, includeZero)
	putSection(layer, "http", httpLayer)

	database := map[string]any{}
	putString(database, "driver", cfg.Database.Driver, includeZero)
	putString(database, "dsn", cfg.Database.DSN, includeZero)
	if includeZero || cfg.Database.Debug {
		database["debug"] = cfg.Database.Debug
	}
	putSection(layer, "database", database)

	redis := map[string]any{}
	putString(redis, "addr", cfg.Redis.Addr, includeZero)
	putString(redis, "password", cfg.Redis.Password, includeZero)
	putInt(redis, "db", cfg.Redis.DB, includeZero)
	putString(redis, "channel", cfg.Redis.Channel, includeZero)
	putString(redis, "lock_prefix", cfg.Redis.LockPrefix, includeZero)
	putSection(layer, "redis", redis)

	archive := map[string]any{}
	putString(archive, "bucket", cfg.Archive.Bucket, includeZero)
	putString(archive, "prefix", cfg.Archive.Prefix, includeZero)
	putString(archive, "region", cfg.Archive.Region, includeZero)
	putString(archive, "endpoint", cfg.Archive.Endpoint, includeZero)
	putString(archive, "access_key_id", cfg.Archive.AccessKeyID, includeZero)
	putString(archive, "secret_access_key", cfg.Archive.SecretAccessKey, includeZero)
	putSection(layer, "archive", archive)
	return layer
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) == 0 {
		return
	}
	layer[key] = section
}

func putString(layer map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = value
	}
}

func putInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func putFloat(layer map[string]any, key string, value float64, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func putDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}
