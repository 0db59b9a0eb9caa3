package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulse/internal/config"
)

func TestDefaults(t *testing.T) {
	t.Setenv("PULSE_ENV", config.Test)
	config.Reset()
	t.Cleanup(config.Reset)

	cfg := config.GetConfig()
	assert.True(t, cfg.IsTest())
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 30*time.Second, cfg.QueryCacheTTL())
	assert.Equal(t, 30, cfg.RetentionMaxDays)
	assert.Equal(t, 2, cfg.AggregationLookbackDays)
	assert.Equal(t, 90, cfg.PassHistoryRetentionDays)
	assert.True(t, cfg.SessionGrainAggregation)
	assert.Empty(t, cfg.FingerprintSalt())
	assert.Equal(t, "15 0 * * *", cfg.DailyPassSchedule)
}

func TestEnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		verify func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "session timeout",
			env:  map[string]string{"PULSE_SESSION_TIMEOUT_SECONDS": "900"},
			verify: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 15*time.Minute, cfg.SessionTimeout())
			},
		},
		{
			name: "fingerprinting uses the private key as salt",
			env: map[string]string{
				"PULSE_ANONYMOUS_FINGERPRINTING": "true",
				"PULSE_PRIVATE_KEY":              "0123456789abcdef0123456789abcdef",
			},
			verify: func(t *testing.T, cfg *config.Config) {
				assert.NotEmpty(t, cfg.FingerprintSalt())
			},
		},
		{
			name: "aggregation settings",
			env: map[string]string{
				"PULSE_AGGREGATION_LOOKBACK_DAYS":   "5",
				"PULSE_RETENTION_MAX_DAYS":          "90",
				"PULSE_SESSION_GRAIN_AGGREGATION":   "false",
				"PULSE_PASS_HISTORY_RETENTION_DAYS": "7",
			},
			verify: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 5, cfg.AggregationLookbackDays)
				assert.Equal(t, 90, cfg.RetentionMaxDays)
				assert.False(t, cfg.SessionGrainAggregation)
				assert.Equal(t, 7, cfg.PassHistoryRetentionDays)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PULSE_ENV", config.Test)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			config.Reset()
			t.Cleanup(config.Reset)

			tt.verify(t, config.GetConfig())
		})
	}
}
