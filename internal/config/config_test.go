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
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	work := t.TempDir()
	dir := writeConfig(t, `
server:
  mode: debug
jwt:
  secret: short
storage:
  local_path: `+filepath.Join(work, "uploads")+`
session:
  staging_dir: `+filepath.Join(work, "staging")+`
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWT.ExpireTime)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Session.RetryBackoff)
	assert.Equal(t, 4, cfg.Session.UploadConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Session.DocumentTimeout)
	assert.Equal(t, "*/5 * * * *", cfg.Task.SweepCron)
	assert.Equal(t, float64(120), cfg.Task.MaxVideoSeconds)
	assert.Equal(t, "database", cfg.Auth.Provider)
	assert.DirExists(t, cfg.Session.StagingDir)
	assert.DirExists(t, cfg.Storage.LocalPath)
}

func TestLoadConfigOverrides(t *testing.T) {
	work := t.TempDir()
	dir := writeConfig(t, `
server:
  mode: debug
session:
  max_retries: 1
  retry_backoff: 500ms
  upload_concurrency: 0
  staging_dir: `+filepath.Join(work, "staging")+`
storage:
  type: minio
cors:
  allowed_origins: [https://exam.example.com]
`)
	t.Setenv("JWT_SECRET", "from-environment")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "from-environment", cfg.JWT.Secret)
	assert.Equal(t, 1, cfg.Session.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.RetryBackoff)
	assert.Equal(t, 1, cfg.Session.UploadConcurrency, "concurrency is clamped to at least one")
	assert.Equal(t, []string{"https://exam.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoadConfigRejects(t *testing.T) {
	work := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"short secret in release", "server:\n  mode: release\njwt:\n  secret: short\n"},
		{"negative retries", "session:\n  max_retries: -1\n  staging_dir: " + filepath.Join(work, "staging") + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err, "missing file")
}
