package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/outreach")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/outreach", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 50, cfg.DispatchBatchSize)
	assert.Equal(t, 5*time.Minute, cfg.DispatchInterval)
	assert.Equal(t, 30*time.Second, cfg.IMAPTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.ReplyLookback)
	assert.Equal(t, 4, cfg.MaxConcurrentSessions)
	assert.InDelta(t, 1.0, cfg.SendRatePerSecond, 0.0001)
	assert.False(t, cfg.LogJSON)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TRACKING_BASE_URL=https://t.example.com/\n"), 0o600))
	// Setenv registers the restore; godotenv never overrides a set variable
	t.Setenv("TRACKING_BASE_URL", "")
	require.NoError(t, os.Unsetenv("TRACKING_BASE_URL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://t.example.com", cfg.TrackingBaseURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"DISPATCH_INTERVAL":       "often",
		"DISPATCH_BATCH_SIZE":     "fifty",
		"MAX_CONCURRENT_SESSIONS": "0",
		"LOG_JSON":                "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
