package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scraper.MaxWorkers)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.Batch.Size)
	assert.Equal(t, 30, cfg.Session.RateLimitPerMinute)
	assert.Equal(t, 5*time.Second, cfg.Proxy.ValidateTimeout)
	assert.Equal(t, time.Second, cfg.Retry.BackoffUnit)
	assert.Equal(t, "sqlite", cfg.Sink.Kind)
	assert.Equal(t, "listed,desc", cfg.Scraper.SellerParams["sort"])
	assert.True(t, cfg.Proxy.UseProxy)
}

func TestLoadConfigLegacyEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PROXIES_URL", "http://lists.example.com/proxies.txt")
	t.Setenv("MAX_WORKERS", "7")
	t.Setenv("BATCH_SIZE", "25")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "http://lists.example.com/proxies.txt", cfg.Proxy.ListURL)
	assert.Equal(t, 7, cfg.Scraper.MaxWorkers)
	assert.Equal(t, 25, cfg.Batch.Size)
}

func TestLoadConfigPrefixedEnvWins(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("HARVESTER_RETRY_MAX_ATTEMPTS", "4")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
}

func TestLoadConfigRedisHostPort(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", cfg.Sink.RedisAddr)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scraper:
  max_workers: 5
session:
  rate_limit_per_minute: 60
`), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("workers", 0, "")
	flags.Int("batch", 0, "")
	require.NoError(t, flags.Parse([]string{"--batch=10"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scraper.MaxWorkers, "unset flag must not shadow the file value")
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, 60, cfg.Session.RateLimitPerMinute)
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TABLE_NAME=dump_releases\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TABLE_NAME") })

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "dump_releases", cfg.Sink.Table)
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	chdirTemp(t)
	t.Setenv("HARVESTER_SINK_KIND", "postgres")

	_, err := LoadConfig("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgresDSN")
}

func TestValidateRejectsLongProbeTimeout(t *testing.T) {
	chdirTemp(t)
	t.Setenv("HARVESTER_PROXY_VALIDATE_TIMEOUT", "10s")

	_, err := LoadConfig("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ValidateTimeout")
}

func TestSaveConfigTemplate(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, SaveConfigTemplate(path))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scraper.MaxWorkers)

	assert.Error(t, SaveConfigTemplate(path), "existing file must not be overwritten")
}
