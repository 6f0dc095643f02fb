package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFiles_Defaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8085, config.Server.Port)
	assert.Equal(t, "2s", config.Tracker.PollInterval)
	assert.Equal(t, "500ms", config.Tracker.GraceDelay)
	assert.Equal(t, "/api/jobs/{id}", config.Source.StatusPath)
	assert.Equal(t, []string{"completed", "failed", "cancelled"}, config.Source.TerminalStatuses)
	assert.False(t, config.Storage.Badger.Enabled)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	first := writeConfig(t, `
[server]
port = 9000

[tracker]
poll_interval = "5s"
`)
	second := writeConfig(t, `
[tracker]
poll_interval = "1s"
timeout = "10m"

[source]
base_url = "https://jobs.example.com"
terminal_statuses = ["done"]
`)

	config, err := LoadFromFiles(first, "", second)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "1s", config.Tracker.PollInterval)
	assert.Equal(t, "10m", config.Tracker.Timeout)
	assert.Equal(t, "https://jobs.example.com", config.Source.BaseURL)
	assert.Equal(t, []string{"done"}, config.Source.TerminalStatuses)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("JOBWATCH_SERVER_PORT", "7070")
	t.Setenv("JOBWATCH_POLL_INTERVAL", "3s")
	t.Setenv("JOBWATCH_SOURCE_TERMINAL_STATUSES", "done, aborted ,")
	t.Setenv("JOBWATCH_BADGER_PATH", "/tmp/jobwatch-test")

	path := writeConfig(t, `
[server]
port = 9000
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "3s", config.Tracker.PollInterval)
	assert.Equal(t, []string{"done", "aborted"}, config.Source.TerminalStatuses)
	assert.True(t, config.Storage.Badger.Enabled)
	assert.Equal(t, "/tmp/jobwatch-test", config.Storage.Badger.Path)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "[server\nport = "))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad poll interval", func(c *Config) { c.Tracker.PollInterval = "soon" }},
		{"status path without id", func(c *Config) { c.Source.StatusPath = "/api/jobs" }},
		{"missing base url", func(c *Config) { c.Source.BaseURL = "" }},
	}

	require.NoError(t, NewDefaultConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8085, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)

	ApplyFlagOverrides(config, 9999, "0.0.0.0")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, err = ParseDuration("750ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, d)

	_, err = ParseDuration("later", time.Second)
	assert.Error(t, err)
}
