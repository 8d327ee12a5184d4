package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("LIVE_ALLOWED_ORIGINS", "https://admin.propdesk.id,https://staging.propdesk.id")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, "propdesk:permissions:invalidate", cfg.PermissionChannel)
	assert.Equal(t, 30*time.Minute, cfg.PermissionStoreIdleTTL)
	assert.Equal(t, time.Minute, cfg.PermissionSweepInterval)
	assert.Equal(t, "*/15 * * * *", cfg.PermissionResyncCron)
	assert.Equal(t, []string{"https://admin.propdesk.id", "https://staging.propdesk.id"}, cfg.LiveAllowedOrigins)
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.Equal(t, 10*time.Second, cfg.WorkerShutdownTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing session secret": {"SESSION_SECRET": "", "CSRF_SECRET": "csrf"},
		"missing csrf secret":    {"SESSION_SECRET": "s", "CSRF_SECRET": ""},
		"negative rate limit":    {"SESSION_SECRET": "s", "CSRF_SECRET": "c", "RATE_LIMIT_PER_MINUTE": "-1"},
		"blank channel":          {"SESSION_SECRET": "s", "CSRF_SECRET": "c", "PERMISSION_CHANNEL": "  "},
		"bad duration":           {"SESSION_SECRET": "s", "CSRF_SECRET": "c", "PERMISSION_STORE_IDLE_TTL": "soon"},
		"no worker concurrency":  {"SESSION_SECRET": "s", "CSRF_SECRET": "c", "WORKER_CONCURRENCY": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "INFO", parseLevel(nil).String())
	assert.Equal(t, "DEBUG", parseLevel(&Config{LogLevel: "debug"}).String())
	assert.Equal(t, "WARN", parseLevel(&Config{LogLevel: " Warning "}).String())
	assert.Equal(t, "INFO", parseLevel(&Config{LogLevel: "verbose"}).String())
}
