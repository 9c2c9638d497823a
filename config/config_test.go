package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "nur-learning-hub", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 10*time.Second, cfg.Engine.LockTTL)
	assert.Equal(t, 8, cfg.Engine.ReconcileConcurrency)
	assert.Equal(t, "5 0 * * 1", cfg.Scheduler.FreezeGrantCron)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "nur:events", cfg.Events.Channel)

	assert.True(t, cfg.Features.FreezeGrantsEnabled())
	assert.True(t, cfg.Features.CategoryBonusEnabled())
	assert.False(t, cfg.Features.EventFanoutEnabled())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_ENV":                       "staging",
		"APP_TIMEZONE":                  "Asia/Almaty",
		"DATABASE_URL":                  "postgres://nur@db/nur",
		"ENGINE_LOCK_TTL":               "3s",
		"HTTP_PORT":                     "9000",
		"FEATURE_ENGINE_CATEGORY_BONUS": "false",
		"FEATURE_EVENTS_REDIS_FANOUT":   "true",
		"FEATURE_ENGINE_FREEZE_GRANTS":  "not-a-bool",
	})
	require.NoError(t, err)

	assert.False(t, cfg.App.Debug)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, "postgres://nur@db/nur", cfg.Database.URL)
	assert.Equal(t, 3*time.Second, cfg.Engine.LockTTL)
	assert.Equal(t, 9000, cfg.HTTP.Port)

	assert.False(t, cfg.Features.CategoryBonusEnabled())
	assert.True(t, cfg.Features.EventFanoutEnabled())
	assert.True(t, cfg.Features.FreezeGrantsEnabled())
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"bad timezone", map[string]string{"APP_TIMEZONE": "Mars/Olympus"}},
		{"bad duration", map[string]string{"ENGINE_LOCK_TTL": "soon"}},
		{"bad env", map[string]string{"APP_ENV": "qa"}},
		{"production without db secret", map[string]string{"APP_ENV": "production"}},
		{"production without redis", map[string]string{"APP_ENV": "production", "DATABASE_URL": "postgres://x", "REDIS_DISABLED": "true"}},
		{"sample ratio", map[string]string{"TRACING_SAMPLE_RATIO": "2"}},
		{"zero concurrency", map[string]string{"ENGINE_RECONCILE_CONCURRENCY": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			assert.Error(t, err)
		})
	}
}

func TestFeatureFlags(t *testing.T) {
	ff := LoadFeatureFlags(map[string]string{})

	require.NoError(t, ff.SetEnabled(FeatureRemoteReconcile, false))
	assert.False(t, ff.RemoteReconcileEnabled())
	assert.ErrorIs(t, ff.SetEnabled("engine.unknown", true), ErrFeatureNotFound)
	assert.False(t, ff.IsEnabled("engine.unknown"))

	all := ff.All()
	require.Len(t, all, 5)
	assert.Equal(t, FeatureSnapshotAPI, all[0].Name)

	var nilFlags *FeatureFlags
	assert.False(t, nilFlags.IsEnabled(FeatureFreezeGrants))
}
