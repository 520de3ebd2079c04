package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Traffic.Timeout)
	assert.Equal(t, 40.0, cfg.Traffic.AverageSpeedKmh)
	assert.Equal(t, "composite", cfg.Matching.Strategy)
	assert.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, "Asia/Almaty", cfg.Lifecycle.Timezone)
	assert.Empty(t, cfg.Lifecycle.EligibilityRefreshCron)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRAFFIC_TIMEOUT", "2s")
	t.Setenv("MATCHING_STRATEGY", "legacy")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Traffic.Timeout)
	assert.Equal(t, "legacy", cfg.Matching.Strategy)
	assert.Equal(t, "postgres://app:secret@db:5432/bloodlink?sslmode=disable", cfg.Database.URL)
}

func TestValidate_CollectsErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("MATCHING_STRATEGY", "fastest")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "MATCHING_STRATEGY")
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")
	assert.Contains(t, err.Error(), "APP_TIMEZONE")
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_NOTIFY_MQTT", "false")
	t.Setenv("FEATURE_TRAFFIC_ETA_CACHE", "0")

	ff := LoadFeatureFlags()
	assert.True(t, ff.Enabled(FeatureTrafficLiveETA))
	assert.False(t, ff.Enabled(FeatureNotifyMQTT))
	assert.False(t, ff.Enabled(FeatureTrafficETACache))
	assert.False(t, ff.Enabled("unknown"))

	require.NoError(t, ff.SetRolloutPercent(FeatureNotifyTelegram, 50))
	first := ff.IsEnabled(FeatureNotifyTelegram, "req-42")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureNotifyTelegram, "req-42"))
	}
	assert.Error(t, ff.SetRolloutPercent(FeatureNotifyTelegram, 101))
	assert.Error(t, ff.DisableFeature("unknown"))

	var nilFlags *FeatureFlags
	assert.True(t, nilFlags.Enabled(FeatureNotifyTelegram))
}
