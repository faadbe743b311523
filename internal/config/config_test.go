package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nudged/internal/followup"
)

// setupTestHome points HOME at a temp dir and returns the nudged config dir
// inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "nudged")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:9494", cfg.Server.Addr())
	assert.Equal(t, time.Hour, cfg.Reminder.OverdueGrace.Duration())
	assert.Equal(t, 50, cfg.Correlation.WindowSize)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9494, cfg.Server.Port)
	assert.Equal(t, "disabled", cfg.Enhancement.Provider)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".local", "share", "nudged"), cfg.Storage.Dir)
}

func TestLoad_YAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 8088
reminder:
  overdue_grace: 90m
  sweep_interval: 1m
correlation:
  threshold: 0.6
  max_threads: 20
storage:
  backend: memory
notify:
  webhook_url: https://hooks.example.com/nudge
  webhook_headers:
    X-Token: abc
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset keys keep their defaults")
	assert.Equal(t, 90*time.Minute, cfg.Reminder.OverdueGrace.Duration())
	assert.Equal(t, 15*time.Minute, cfg.Reminder.DefaultSnooze.Duration())
	assert.Equal(t, 0.6, cfg.Correlation.Threshold)
	assert.Equal(t, 20, cfg.Correlation.MaxThreads)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, "abc", cfg.Notify.WebhookHeaders["X-Token"])
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8088\n", 0600)

	t.Setenv("NUDGED_SERVER_HTTP_PORT", "7070")
	t.Setenv("NUDGED_REMINDER_DEFAULT_SNOOZE", "20m")
	t.Setenv("NUDGED_ENHANCEMENT_PROVIDER", "anthropic")
	t.Setenv("NUDGED_ENHANCEMENT_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 20*time.Minute, cfg.Reminder.DefaultSnooze.Duration())
	assert.Equal(t, "sk-test", cfg.Enhancement.APIKey.Value())
	assert.Equal(t, "sk-test", cfg.EnhancementService().APIKey)
}

func TestLoad_RejectsUnsafeFiles(t *testing.T) {
	dir := setupTestHome(t)

	t.Run("world readable", func(t *testing.T) {
		path := writeConfig(t, dir, "server:\n  http_port: 8088\n", 0644)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("outside allowed dirs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0600))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config path validation failed")
	})

	t.Run("sibling prefix", func(t *testing.T) {
		sibling := dir + "-evil"
		require.NoError(t, os.MkdirAll(sibling, 0700))
		_, err := Load(filepath.Join(sibling, "config.yaml"))
		assert.Error(t, err)
	})
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"port", "server:\n  http_port: 70000\n", "invalid server port"},
		{"format", "logging:\n  format: xml\n", "logging format"},
		{"threshold", "correlation:\n  threshold: 1.5\n", "correlation threshold"},
		{"provider", "enhancement:\n  provider: oracle\n", "unknown enhancement provider"},
		{"missing key", "enhancement:\n  provider: openai\n", "requires an api key"},
		{"backend", "storage:\n  backend: floppy\n", "unknown storage backend"},
		{"postgres dsn", "storage:\n  backend: postgres\n", "requires a dsn"},
		{"nats storage", "storage:\n  backend: nats\n", "nats storage requires"},
		{"webhook", "notify:\n  webhook_url: ftp://x\n", "webhook url"},
		{"negative duration", "reminder:\n  overdue_grace: -5m\n", "failed to unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, dir, tt.yaml, 0600)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("NUDGED_SERVER_HTTP_PORT"))
	assert.Equal(t, "bus.nats_url", envKey("NUDGED_BUS_NATS_URL"))
	assert.Equal(t, "debug", envKey("NUDGED_DEBUG"))
}

func TestTuningConversions(t *testing.T) {
	cfg := Default()
	cfg.Followup.EmailWindow = Duration(2 * time.Hour)
	cfg.Correlation.MaxThreads = 7

	fu := cfg.FollowupTuning()
	assert.Equal(t, 2*time.Hour, fu.Windows[followup.TypeEmailResponse])
	assert.Equal(t, followup.DefaultWindows[followup.TypeActionItemCheck], fu.Windows[followup.TypeActionItemCheck])

	assert.Equal(t, 7, cfg.CorrelationTuning().MaxThreads)
	assert.Equal(t, time.Hour, cfg.ReminderTuning().OverdueGrace)
	assert.Equal(t, 10, cfg.AdmissionTuning().ShortLength)

	cfg.Secrets.Allow = []string{"^sk-test-"}
	sc := cfg.SecretsTuning()
	assert.True(t, sc.Enabled)
	assert.True(t, sc.Gitleaks)
	assert.Equal(t, []string{"^sk-test-"}, sc.Allow)
}

func TestLoad_SecretsAndToken(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  api_token: s3cret-token
secrets:
  gitleaks: false
  allowlist_file: ~/.config/nudged/allow.toml
  allow:
    - "^sk-test-"
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-token", cfg.Server.APIToken.Value())
	assert.True(t, cfg.Secrets.Enabled, "unset keys keep their defaults")
	assert.False(t, cfg.Secrets.Gitleaks)
	assert.Equal(t, []string{"^sk-test-"}, cfg.Secrets.Allow)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".config", "nudged", "allow.toml"), cfg.Secrets.AllowlistFile)
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "hunter2", s.Value())
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1h30m0s"`, string(data))
}
