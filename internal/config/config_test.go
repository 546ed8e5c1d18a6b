package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
database:
  type: sqlite
  path: test.db
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, time.Minute, cfg.Scheduler.IntervalDuration())
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.StaleAfterDuration())
	assert.True(t, cfg.Scheduler.IsEnabled())
	assert.False(t, cfg.Scheduler.ReconcileOnStart)
	assert.Equal(t, 120*time.Second, cfg.Publisher.TimeoutDuration())
	assert.Zero(t, cfg.Publisher.MinIntervalDuration())
	assert.Equal(t, "linkedin", cfg.Publisher.Type)
	assert.True(t, cfg.Publisher.LinkedIn.IsHeadless())
	assert.Equal(t, int64(5<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/gif"}, cfg.Upload.AllowedMIME)
	assert.Equal(t, "local", cfg.Storage.Type)
}

func TestLoadConfig_SchedulerOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  type: sqlite
scheduler:
  interval: 30s
  enabled: false
  reconcile_on_start: true
publisher:
  type: dryrun
  timeout: 45s
  min_interval: 10s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.IntervalDuration())
	assert.False(t, cfg.Scheduler.IsEnabled())
	assert.True(t, cfg.Scheduler.ReconcileOnStart)
	assert.Equal(t, 45*time.Second, cfg.Publisher.TimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Publisher.MinIntervalDuration())
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad interval": `
scheduler:
  interval: soon
`,
		"bad database": `
database:
  type: oracle
`,
		"bad publisher": `
publisher:
  type: substack
`,
		"stale_after below publisher timeout": `
scheduler:
  stale_after: 1s
publisher:
  timeout: 120s
`,
		"s3 without bucket": `
storage:
  type: s3
`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_StaleAfterCoversPublishTimeout(t *testing.T) {
	path := writeConfig(t, `
database:
  type: sqlite
scheduler:
  stale_after: 40s
publisher:
  timeout: 30s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, cfg.Scheduler.StaleAfterDuration())
	assert.Equal(t, 40*time.Second, MinStaleAfter(cfg.Publisher.TimeoutDuration()))

	path = writeConfig(t, `
database:
  type: sqlite
scheduler:
  stale_after: 39s
publisher:
  timeout: 30s
`)
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "scheduler.stale_after")
}
