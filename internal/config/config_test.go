package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, "azure", cfg.LLMProvider)
	assert.Equal(t, "2024-02-15-preview", cfg.AzureOpenAIAPIVersion)
	assert.Equal(t, 90*time.Second, cfg.LLMTimeout)
	assert.Equal(t, "memory", cfg.LiveStateDriver)
	assert.Equal(t, 1500*time.Millisecond, cfg.SelfPlayDelay)
	assert.False(t, cfg.Debug())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_PROVIDER", " Mock ")
	t.Setenv("SELF_PLAY_DELAY", "250ms")
	t.Setenv("DATABASE_DRIVER", "pgx")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Debug())
	assert.Equal(t, "mock", cfg.LLMProvider)
	assert.Equal(t, 250*time.Millisecond, cfg.SelfPlayDelay)
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "DATABASE_DRIVER": "mysql"}},
		{"redis without url", map[string]string{"JWT_SECRET": "x", "LIVE_STATE_DRIVER": "redis", "REDIS_URL": ""}},
		{"bcrypt cost", map[string]string{"JWT_SECRET": "x", "BCRYPT_COST": "99"}},
		{"negative delay", map[string]string{"JWT_SECRET": "x", "SELF_PLAY_DELAY": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
