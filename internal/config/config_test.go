package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL",
		"REDIS_URL", "MONGO_URL", "MONGO_DATABASE", "PARTICIPANT_TTL",
		"SWEEP_PERIOD", "RATE_LIMIT_WHITELIST", "AUTO_BLOCK_ENABLED",
		"TRUSTED_PROXIES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "5000", cfg.Port)
	require.Equal(t, DriverMemory, cfg.StoreDriver)
	require.Equal(t, 10*time.Second, cfg.ParticipantTTL)
	require.Equal(t, 15*time.Second, cfg.SweepPeriod)
	require.Equal(t, "batepapo", cfg.MongoDatabase)
	require.True(t, cfg.IsDevelopment())
	require.Empty(t, cfg.RateLimitWhitelist)
	require.Empty(t, cfg.TrustedProxies)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PARTICIPANT_TTL", "30s")
	t.Setenv("SWEEP_PERIOD", "1m")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8, 127.0.0.1,")
	t.Setenv("AUTO_BLOCK_ENABLED", "true")
	t.Setenv("TRUSTED_PROXIES", "172.16.0.0/12")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DriverRedis, cfg.StoreDriver)
	require.Equal(t, 30*time.Second, cfg.ParticipantTTL)
	require.Equal(t, time.Minute, cfg.SweepPeriod)
	require.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.RateLimitWhitelist)
	require.True(t, cfg.AutoBlockEnabled)
	require.Equal(t, []string{"172.16.0.0/12"}, cfg.TrustedProxies)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "cassandra"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"redis without url", map[string]string{"STORE_DRIVER": "redis"}},
		{"mongo without url", map[string]string{"STORE_DRIVER": "mongo"}},
		{"memory in production", map[string]string{"ENV": "production"}},
		{"bad ttl", map[string]string{"PARTICIPANT_TTL": "soon"}},
		{"negative period", map[string]string{"SWEEP_PERIOD": "-5s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
