package core

import (
	"fmt"
	"strings"
	"time"
)

type ProviderConfig struct {
	Name            string        `koanf:"name" mapstructure:"name"`
	SigningSecret   string        `koanf:"signing_secret" mapstructure:"signing_secret"`
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
	Tolerance       time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
}

type QueueConfig struct {
	Workers           int           `koanf:"workers" mapstructure:"workers"`
	PollInterval      time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	VisibilityTimeout time.Duration `koanf:"visibility_timeout" mapstructure:"visibility_timeout"`
	DrainTimeout      time.Duration `koanf:"drain_timeout" mapstructure:"drain_timeout"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	Multiplier  float64       `koanf:"multiplier" mapstructure:"multiplier"`
	MaxDelay    time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

// CategoryConfig overrides the global retry policy and handler timeout for
// one event category. Zero values inherit the global setting.
type CategoryConfig struct {
	Timeout     time.Duration `koanf:"timeout" mapstructure:"timeout"`
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	Multiplier  float64       `koanf:"multiplier" mapstructure:"multiplier"`
	MaxDelay    time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type LocksConfig struct {
	TTL time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type RetentionConfig struct {
	ProcessedEvents time.Duration `koanf:"processed_events" mapstructure:"processed_events"`
	ProcessedJobs   time.Duration `koanf:"processed_jobs" mapstructure:"processed_jobs"`
	DeadLetters     time.Duration `koanf:"dead_letters" mapstructure:"dead_letters"`
	SweepInterval   time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
}

type AlertsConfig struct {
	LockStormThreshold int           `koanf:"lock_storm_threshold" mapstructure:"lock_storm_threshold"`
	LockStormWindow    time.Duration `koanf:"lock_storm_window" mapstructure:"lock_storm_window"`
}

type HTTPConfig struct {
	Addr         string `koanf:"addr" mapstructure:"addr"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	AdminToken   string `koanf:"admin_token" mapstructure:"admin_token"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type RedisConfig struct {
	Addr       string `koanf:"addr" mapstructure:"addr"`
	Password   string `koanf:"password" mapstructure:"password"`
	DB         int    `koanf:"db" mapstructure:"db"`
	Channel    string `koanf:"channel" mapstructure:"channel"`
	LockPrefix string `koanf:"lock_prefix" mapstructure:"lock_prefix"`
}

type ArchiveConfig struct {
	Bucket          string `koanf:"bucket" mapstructure:"bucket"`
	Prefix          string `koanf:"prefix" mapstructure:"prefix"`
	Region          string `koanf:"region" mapstructure:"region"`
	Endpoint        string `koanf:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key" mapstructure:"secret_access_key"`
}

type Config struct {
	ServiceName    string                    `koanf:"service_name" mapstructure:"service_name"`
	Environment    string                    `koanf:"environment" mapstructure:"environment"`
	Provider       ProviderConfig            `koanf:"provider" mapstructure:"provider"`
	Queue          QueueConfig               `koanf:"queue" mapstructure:"queue"`
	Retry          RetryConfig               `koanf:"retry" mapstructure:"retry"`
	HandlerTimeout time.Duration             `koanf:"handler_timeout" mapstructure:"handler_timeout"`
	Categories     map[string]CategoryConfig `koanf:"categories" mapstructure:"categories"`
	Locks          LocksConfig               `koanf:"locks" mapstructure:"locks"`
	Retention      RetentionConfig           `koanf:"retention" mapstructure:"retention"`
	Alerts         AlertsConfig              `koanf:"alerts" mapstructure:"alerts"`
	HTTP           HTTPConfig                `koanf:"http" mapstructure:"http"`
	Database       DatabaseConfig            `koanf:"database" mapstructure:"database"`
	Redis          RedisConfig               `koanf:"redis" mapstructure:"redis"`
	Archive        ArchiveConfig             `koanf:"archive" mapstructure:"archive"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "payhooks",
		Environment: "development",
		Provider: ProviderConfig{
			Name:            "stripe",
			SignatureHeader: "Stripe-Signature",
			Tolerance:       5 * time.Minute,
		},
		Queue: QueueConfig{
			Workers:           4,
			PollInterval:      time.Second,
			VisibilityTimeout: 2 * time.Minute,
			DrainTimeout:      30 * time.Second,
		},
		Retry: RetryConfig{
			BaseDelay:   5 * time.Second,
			Multiplier:  2,
			MaxDelay:    10 * time.Minute,
			MaxAttempts: 5,
		},
		HandlerTimeout: 30 * time.Second,
		Categories: map[string]CategoryConfig{
			string(CategoryConnect): {
				BaseDelay:   time.Minute,
				MaxDelay:    time.Hour,
				MaxAttempts: 8,
			},
		},
		Locks: LocksConfig{
			TTL: time.Minute,
		},
		Retention: RetentionConfig{
			ProcessedEvents: 30 * 24 * time.Hour,
			ProcessedJobs:   7 * 24 * time.Hour,
			DeadLetters:     30 * 24 * time.Hour,
			SweepInterval:   time.Hour,
		},
		Alerts: AlertsConfig{
			LockStormThreshold: 20,
			LockStormWindow:    time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Redis: RedisConfig{
			Channel:    "payhooks:alerts",
			LockPrefix: "payhooks:lock:",
		},
		Archive: ArchiveConfig{
			Prefix: "dead-letters/",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("core: queue.workers must be at least 1")
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("core: queue.visibility_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("core: retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return fmt.Errorf("core: retry.multiplier must be at least 1")
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("core: handler_timeout must be positive")
	}
	if c.HandlerTimeout >= c.Queue.VisibilityTimeout {
		return fmt.Errorf("core: handler_timeout must be shorter than queue.visibility_timeout")
	}
	if c.Locks.TTL < c.HandlerTimeout {
		return fmt.Errorf("core: locks.ttl must be at least handler_timeout")
	}
	for name, override := range c.Categories {
		category, ok := ParseCategory(name)
		if !ok {
			return fmt.Errorf("core: unknown category %q", name)
		}
		if override.Timeout > 0 && override.Timeout >= c.Queue.VisibilityTimeout {
			return fmt.Errorf("core: categories.%s.timeout must be shorter than queue.visibility_timeout", category)
		}
		if override.Timeout > c.Locks.TTL {
			return fmt.Errorf("core: categories.%s.timeout must not exceed locks.ttl", category)
		}
		if override.MaxAttempts < 0 {
			return fmt.Errorf("core: categories.%s.max_attempts must not be negative", category)
		}
		if override.Multiplier != 0 && override.Multiplier < 1 {
			return fmt.Errorf("core: categories.%s.multiplier must be at least 1", category)
		}
	}
	if c.Alerts.LockStormThreshold < 0 {
		return fmt.Errorf("core: alerts.lock_storm_threshold must not be negative")
	}
	return nil
}

// RetryPolicyFor resolves the global retry settings with any category override.
func (c Config) RetryPolicyFor(category Category) ExponentialRetryPolicy {
	policy := ExponentialRetryPolicy{
		BaseDelay:   c.Retry.BaseDelay,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay,
		MaxAttempts: c.Retry.MaxAttempts,
	}
	override, ok := c.Categories[string(category)]
	if !ok {
		return policy
	}
	if override.BaseDelay > 0 {
		policy.BaseDelay = override.BaseDelay
	}
	if override.Multiplier >= 1 {
		policy.Multiplier = override.Multiplier
	}
	if override.MaxDelay > 0 {
		policy.MaxDelay = override.MaxDelay
	}
	if override.MaxAttempts > 0 {
		policy.MaxAttempts = override.MaxAttempts
	}
	return policy
}

func (c Config) HandlerTimeoutFor(category Category) time.Duration {
	if override, ok := c.Categories[string(category)]; ok && override.Timeout > 0 {
		return override.Timeout
	}
	return c.HandlerTimeout
}
