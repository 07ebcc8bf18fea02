package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/goliatone/go-payhooks/core"
	"github.com/joho/godotenv"
)

const envPrefix = "PAYHOOKS_"

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindInt64
	kindFloat
	kindBool
	kindDuration
)

// configKeys lists every key that can be set from the environment. Nested
// keys use "__" in variable names: PAYHOOKS_PROVIDER__SIGNING_SECRET.
var configKeys = map[string]valueKind{
	"service_name":                kindString,
	"environment":                 kindString,
	"handler_timeout":             kindDuration,
	"provider.name":               kindString,
	"provider.signing_secret":     kindString,
	"provider.signature_header":   kindString,
	"provider.tolerance":          kindDuration,
	"queue.workers":               kindInt,
	"queue.poll_interval":         kindDuration,
	"queue.visibility_timeout":    kindDuration,
	"queue.drain_timeout":         kindDuration,
	"retry.base_delay":            kindDuration,
	"retry.multiplier":            kindFloat,
	"retry.max_delay":             kindDuration,
	"retry.max_attempts":          kindInt,
	"locks.ttl":                   kindDuration,
	"retention.processed_events":  kindDuration,
	"retention.processed_jobs":    kindDuration,
	"retention.dead_letters":      kindDuration,
	"retention.sweep_interval":    kindDuration,
	"alerts.lock_storm_threshold": kindInt,
	"alerts.lock_storm_window":    kindDuration,
	"http.addr":                   kindString,
	"http.max_body_bytes":         kindInt64,
	"http.admin_token":            kindString,
	"database.driver":             kindString,
	"database.dsn":                kindString,
	"database.debug":              kindBool,
	"redis.addr":                  kindString,
	"redis.password":              kindString,
	"redis.db":                    kindInt,
	"redis.channel":               kindString,
	"redis.lock_prefix":           kindString,
	"archive.bucket":              kindString,
	"archive.prefix":              kindString,
	"archive.region":              kindString,
	"archive.endpoint":            kindString,
	"archive.access_key_id":       kindString,
	"archive.secret_access_key":   kindString,
}

var categoryKeys = map[string]valueKind{
	"timeout":      kindDuration,
	"base_delay":   kindDuration,
	"multiplier":   kindFloat,
	"max_delay":    kindDuration,
	"max_attempts": kindInt,
}

// envLoader reads an optional .env file and the process environment; the
// process environment wins.
type envLoader struct {
	file   string
	lookup func(string) (string, bool)
}

func (l envLoader) LoadRaw(context.Context) (map[string]any, error) {
	fileValues := map[string]string{}
	if strings.TrimSpace(l.file) != "" {
		values, err := godotenv.Read(l.file)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("payhooksd: read env file %s: %w", l.file, err)
		}
		if err == nil {
			fileValues = values
		}
	}
	lookup := l.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		if value, ok := lookup(name); ok {
			return value, true
		}
		value, ok := fileValues[name]
		return value, ok
	}

	raw := map[string]any{}
	for key, kind := range configKeys {
		if err := setFromEnv(raw, key, kind, get); err != nil {
			return nil, err
		}
	}
	for _, category := range core.Categories() {
		for field, kind := range categoryKeys {
			key := "categories." + string(category) + "." + field
			if err := setFromEnv(raw, key, kind, get); err != nil {
				return nil, err
			}
		}
	}
	return raw, nil
}

func envName(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}

func setFromEnv(raw map[string]any, key string, kind valueKind, get func(string) (string, bool)) error {
	text, ok := get(envName(key))
	if !ok {
		return nil
	}
	text = strings.TrimSpace(text)
	value, err := parseValue(text, kind)
	if err != nil {
		return fmt.Errorf("payhooksd: %s: %w", envName(key), err)
	}
	parts := strings.Split(key, ".")
	node := raw
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
	return nil
}

func parseValue(text string, kind valueKind) (any, error) {
	switch kind {
	case kindInt:
		return strconv.Atoi(text)
	case kindInt64:
		return strconv.ParseInt(text, 10, 64)
	case kindFloat:
		return strconv.ParseFloat(text, 64)
	case kindBool:
		return strconv.ParseBool(text)
	case kindDuration:
		return time.ParseDuration(text)
	default:
		return text, nil
	}
}

// loadConfig resolves defaults < env file < process env < runtime flags.
func loadConfig(ctx context.Context, envFile string, runtime payhooks.Config) (payhooks.Config, error) {
	return core.LoadConfig(ctx, envLoader{file: envFile}, runtime)
}
