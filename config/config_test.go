package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points EnvFile into a fresh directory and returns it.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := EnvFile
	EnvFile = filepath.Join(dir, ".env")
	t.Cleanup(func() { EnvFile = prev })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "@every 1h", cfg.SyncCron)
	assert.Equal(t, time.Hour, cfg.CalendarCacheTTL)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
timezone: Europe/Berlin
sync_cron: "0 3 * * *"
calendar_cache_ttl: 10m
smtp:
  host: smtp.example.org
  from: portal@example.org
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "0 3 * * *", cfg.SyncCron)
	assert.Equal(t, 10*time.Minute, cfg.CalendarCacheTTL)
	assert.Equal(t, "smtp.example.org", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
}

func TestLoad_EmptySyncCronDisables(t *testing.T) {
	isolate(t)
	t.Setenv("SYNC_CRON", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.SyncCron)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	isolate(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
