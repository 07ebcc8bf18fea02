package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "PAYHOOKS_SERVICE_NAME", envName("service_name"))
	assert.Equal(t, "PAYHOOKS_PROVIDER__SIGNING_SECRET", envName("provider.signing_secret"))
	assert.Equal(t, "PAYHOOKS_CATEGORIES__PAYMENT__MAX_ATTEMPTS", envName("categories.payment.max_attempts"))
}

func TestEnvLoader_CoercesTypedValues(t *testing.T) {
	loader := envLoader{lookup: mapLookup(map[string]string{
		"PAYHOOKS_QUEUE__WORKERS":                    "6",
		"PAYHOOKS_QUEUE__POLL_INTERVAL":              "250ms",
		"PAYHOOKS_RETRY__MULTIPLIER":                 "3",
		"PAYHOOKS_DATABASE__DEBUG":                   "true",
		"PAYHOOKS_HTTP__MAX_BODY_BYTES":              "2048",
		"PAYHOOKS_CATEGORIES__CONNECT__MAX_ATTEMPTS": " 9 ",
	})}
	raw, err := loader.LoadRaw(context.Background())
	require.NoError(t, err)

	queue := raw["queue"].(map[string]any)
	assert.Equal(t, 6, queue["workers"])
	assert.Equal(t, 250*time.Millisecond, queue["poll_interval"])
	assert.Equal(t, 3.0, raw["retry"].(map[string]any)["multiplier"])
	assert.Equal(t, true, raw["database"].(map[string]any)["debug"])
	assert.Equal(t, int64(2048), raw["http"].(map[string]any)["max_body_bytes"])
	connect := raw["categories"].(map[string]any)["connect"].(map[string]any)
	assert.Equal(t, 9, connect["max_attempts"])
}

func TestEnvLoader_RejectsMalformedValues(t *testing.T) {
	loader := envLoader{lookup: mapLookup(map[string]string{"PAYHOOKS_LOCKS__TTL": "soon"})}
	_, err := loader.LoadRaw(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYHOOKS_LOCKS__TTL")
}

func TestEnvLoader_ProcessEnvironmentWinsOverFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte(
		"PAYHOOKS_PROVIDER__SIGNING_SECRET=whsec_file\nPAYHOOKS_SERVICE_NAME=from-file\n"), 0o600))

	loader := envLoader{file: file, lookup: mapLookup(map[string]string{
		"PAYHOOKS_SERVICE_NAME": "from-env",
	})}
	raw, err := loader.LoadRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", raw["service_name"])
	assert.Equal(t, "whsec_file", raw["provider"].(map[string]any)["signing_secret"])
}

func TestEnvLoader_MissingFileIsIgnored(t *testing.T) {
	loader := envLoader{file: filepath.Join(t.TempDir(), "absent.env"), lookup: mapLookup(nil)}
	raw, err := loader.LoadRaw(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestLoadConfig_FlagOverridesWin(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("PAYHOOKS_HTTP__ADDR=:9000\nPAYHOOKS_QUEUE__WORKERS=3\n"), 0o600))
	t.Setenv("PAYHOOKS_QUEUE__WORKERS", "5")

	overrides := payhooks.Config{}
	overrides.HTTP.Addr = ":7000"
	cfg, err := loadConfig(context.Background(), file, overrides)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, payhooks.DefaultConfig().Retry.MaxAttempts, cfg.Retry.MaxAttempts)
}

func TestDialectFor(t *testing.T) {
	driver, _, dialect, err := dialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)
	assert.Equal(t, "sqlite", dialect)

	driver, _, dialect, err = dialectFor("Postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "postgres", dialect)

	_, _, _, err = dialectFor("mysql")
	require.Error(t, err)
}
