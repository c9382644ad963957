package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:5000", cfg.License.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.License.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.License.HeartbeatInterval)
	assert.Equal(t, 8590, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.False(t, cfg.Payload.Enabled)
}

func TestLoadDefaultsValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "guardcli.yml")

	content := `
license:
  base_url: "https://license.internal:8443"
  request_timeout: 5s
  heartbeat_interval: 30s
  renewal_url: "https://license.internal/plans"
logging:
  level: debug
server:
  port: 9100
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "https://license.internal:8443", cfg.License.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.License.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.License.HeartbeatInterval)
	assert.Equal(t, "https://license.internal/plans", cfg.License.RenewalURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9100, cfg.Server.Port)

	// Fields the file does not mention keep their defaults
	assert.Equal(t, "credentials.dat", cfg.Paths.CredentialsFile)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "guardcli.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("license:\n  base_url: \"http://from-file:5000\"\n"), 0644))

	t.Setenv("GUARD_LICENSE_BASE_URL", "http://from-env:5000")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:5000", cfg.License.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/guardcli.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty base url",
			mutate:  func(c *Config) { c.License.BaseURL = "" },
			wantErr: "required",
		},
		{
			name:    "malformed base url",
			mutate:  func(c *Config) { c.License.BaseURL = "not-a-url" },
			wantErr: "url",
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.License.RequestTimeout = 0 },
			wantErr: "gt",
		},
		{
			name: "heartbeat shorter than request timeout",
			mutate: func(c *Config) {
				c.License.HeartbeatInterval = 5 * time.Second
				c.License.RequestTimeout = 10 * time.Second
			},
			wantErr: "heartbeat_interval",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "oneof",
		},
		{
			name:    "payload enabled without command",
			mutate:  func(c *Config) { c.Payload.Enabled = true },
			wantErr: "required_if",
		},
		{
			name: "payload enabled with command",
			mutate: func(c *Config) {
				c.Payload.Enabled = true
				c.Payload.Command = "/usr/local/bin/tool"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
