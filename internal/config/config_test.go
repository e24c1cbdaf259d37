package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/internal/remote"
)

func setHorusDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HORUS_DIR", dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	dir := setHorusDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "horus.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, filepath.Join(dir, "artifacts"), cfg.ArtifactDir)
	assert.Equal(t, 3, cfg.Retry.Max)
	assert.Equal(t, "exponential", cfg.Retry.Backoff)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := setHorusDir(t)
	writeFile(t, filepath.Join(dir, "config.yaml"), `
db_path: /var/lib/horus/horus.db
log_level: debug
concurrency: 8
poll_interval: 500ms
retry:
  max: 5
  backoff: linear
  delay: 2s
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/horus/horus.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.PollIntervalDuration())
	assert.Equal(t, 5, cfg.Retry.Max)
	assert.Equal(t, "linear", cfg.Retry.Backoff)
	assert.Equal(t, "2s", cfg.Retry.Delay)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setHorusDir(t)
	writeFile(t, filepath.Join(dir, "config.yaml"), "log_level: debug\nconcurrency: 8\n")
	t.Setenv("HORUS_LOG_LEVEL", "warn")
	t.Setenv("HORUS_CONCURRENCY", "2")
	t.Setenv("HORUS_POLL_INTERVAL", "10s")
	t.Setenv("HORUS_RETRY_MAX", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, 1, cfg.Retry.Max)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := setHorusDir(t)
	writeFile(t, filepath.Join(dir, "config.yaml"), "concurrency: [not an int\n")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero concurrency", "concurrency: 0"},
		{"bad poll interval", "poll_interval: soon"},
		{"bad backoff", "retry:\n  backoff: fibonacci"},
		{"negative retry max", "retry:\n  max: -1"},
		{"bad log level", "log_level: loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setHorusDir(t)
			writeFile(t, filepath.Join(dir, "config.yaml"), tt.yaml)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRemotes_MissingFile(t *testing.T) {
	setHorusDir(t)

	remotes, err := LoadRemotes()
	require.NoError(t, err)
	assert.Empty(t, remotes)
}

func TestLoadRemotes_Valid(t *testing.T) {
	dir := setHorusDir(t)
	writeFile(t, filepath.Join(dir, "remotes.yaml"), `
remotes:
  - name: hpc-cluster
    host: hpc.internal
    user: horus
    identity_file: ~/.ssh/id_ed25519
    workdir: /scratch/horus
    dial_timeout: 30s
  - name: gpu-box
    host: 10.0.0.7
    port: 2222
    user: ops
    secret_ref: gpu-box-key
`)

	remotes, err := LoadRemotes()
	require.NoError(t, err)
	require.Len(t, remotes, 2)

	assert.Equal(t, "hpc-cluster", remotes[0].Name)
	assert.Equal(t, "hpc.internal", remotes[0].Host)
	assert.Equal(t, "30s", remotes[0].DialTimeout)
	assert.Equal(t, 2222, remotes[1].Port)
	assert.Equal(t, "gpu-box-key", remotes[1].SecretRef)
}

func TestLoadRemotes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "remotes:\n  - host: a\n    user: b"},
		{"missing host", "remotes:\n  - name: a\n    user: b"},
		{"missing user", "remotes:\n  - name: a\n    host: b"},
		{"duplicate name", "remotes:\n  - {name: a, host: h1, user: u}\n  - {name: a, host: h2, user: u}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setHorusDir(t)
			writeFile(t, filepath.Join(dir, "remotes.yaml"), tt.yaml)

			_, err := LoadRemotes()
			assert.Error(t, err)
		})
	}
}

func TestSaveRemotes_RoundTrip(t *testing.T) {
	setHorusDir(t)

	in := []remote.Config{
		{Name: "hpc-cluster", Host: "hpc.internal", User: "horus", WorkDir: "/scratch"},
	}
	require.NoError(t, SaveRemotes(in))

	out, err := LoadRemotes()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	info, err := os.Stat(RemotesPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
