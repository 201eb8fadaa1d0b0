package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "backend", cfg.RecordSource)
	assert.Equal(t, 8*time.Second, cfg.AssetTimeout)
	assert.Equal(t, 2.0, cfg.RenderScale)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.CloudinaryEnabled())
	assert.False(t, cfg.Production())
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	body := "HTTP_PORT=9999\nASSET_TIMEOUT=3s\nRENDER_SCALE=3\nWORKER_CONCURRENCY=5\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables that already exist.
	t.Setenv("APP_ENV", "prod")
	for _, k := range []string{"HTTP_PORT", "ASSET_TIMEOUT", "RENDER_SCALE", "WORKER_CONCURRENCY"} {
		k := k
		prev, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}

	cfg := Load()
	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.AssetTimeout)
	assert.Equal(t, 3.0, cfg.RenderScale)
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.True(t, cfg.Production())
}

func TestEnvFallbacks(t *testing.T) {
	tests := []struct {
		name string
		val  string
		got  func() any
		want any
	}{
		{"bad duration", "soon", func() any { return durationEnv("X_TEST_VAL", time.Second) }, time.Second},
		{"bad int", "many", func() any { return intEnv("X_TEST_VAL", 7) }, 7},
		{"bad bool", "maybe", func() any { return boolEnv("X_TEST_VAL", true) }, true},
		{"negative float", "-1", func() any { return floatEnv("X_TEST_VAL", 2) }, 2.0},
		{"valid float", "2.5", func() any { return floatEnv("X_TEST_VAL", 2) }, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("X_TEST_VAL", tt.val)
			assert.Equal(t, tt.want, tt.got())
		})
	}
}
