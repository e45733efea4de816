package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		yamlContent string
		check       func(t *testing.T, cfg *Config)
		wantErr     string
	}{
		{
			name: "minimal config gets defaults",
			yamlContent: `remote:
  endpoint: https://api.example.com`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "./data", cfg.DataDir)
				assert.Equal(t, 4*time.Hour, cfg.Refresh.MinIntervalDuration())
				assert.Equal(t, 90*24*time.Hour, cfg.Refresh.CadenceWindow())
				assert.Equal(t, 5, cfg.Queue.MaxAttempts)
				assert.Equal(t, 30*time.Second, cfg.Queue.OperationTimeoutDuration())
				assert.Equal(t, 2*time.Second, cfg.Queue.Backoff.InitialIntervalDuration())
				assert.Equal(t, 10*time.Minute, cfg.Queue.Backoff.MaxIntervalDuration())
				assert.InDelta(t, 2.0, cfg.Queue.Backoff.Multiplier, 0.0001)
				assert.Equal(t, "cadence-sync", cfg.Auth.KeyringService)
				assert.NotEmpty(t, cfg.Refresh.Notification.Title)
			},
		},
		{
			name: "explicit values are kept",
			yamlContent: `dataDir: /var/lib/cadence
refresh:
  minInterval: 1h
  cadenceDays: 30
  notification:
    title: Hello
queue:
  maxAttempts: 3
  operationTimeout: 10s
remote:
  endpoint: https://api.example.com
  timeout: 5s
connectivity:
  probeAddress: api.example.com:443`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "/var/lib/cadence", cfg.DataDir)
				assert.Equal(t, time.Hour, cfg.Refresh.MinIntervalDuration())
				assert.Equal(t, 30, cfg.Refresh.CadenceDays)
				assert.Equal(t, "Hello", cfg.Refresh.Notification.Title)
				assert.Equal(t, 3, cfg.Queue.MaxAttempts)
				assert.Equal(t, 5*time.Second, cfg.Remote.TimeoutDuration())
				assert.Equal(t, "api.example.com:443", cfg.Connectivity.ProbeAddress)
			},
		},
		{
			name:        "missing endpoint",
			yamlContent: `dataDir: ./data`,
			wantErr:     "remote.endpoint is required",
		},
		{
			name: "invalid duration",
			yamlContent: `refresh:
  minInterval: soon
remote:
  endpoint: https://api.example.com`,
			wantErr: "refresh.minInterval must be a valid duration",
		},
		{
			name: "negative cadence",
			yamlContent: `refresh:
  cadenceDays: -1
remote:
  endpoint: https://api.example.com`,
			wantErr: "refresh.cadenceDays must be positive",
		},
		{
			name: "unknown storage type",
			yamlContent: `storage:
  type: s3
remote:
  endpoint: https://api.example.com`,
			wantErr: "storage.type must be",
		},
		{
			name: "invalid api address",
			yamlContent: `api:
  address: localhost
remote:
  endpoint: https://api.example.com`,
			wantErr: "api.address must be host:port",
		},
		{
			name: "tracing sampling out of range",
			yamlContent: `remote:
  endpoint: https://api.example.com
telemetry:
  enabled: true
  tracing:
    enabled: true
    sampling: 1.5`,
			wantErr: "sampling must be between 0.0 and 1.0",
		},
		{
			name:        "invalid yaml",
			yamlContent: "remote: [",
			wantErr:     "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yamlContent), 0600))

			cfg, err := LoadConfig(WithConfigPath(path))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_PathRequired(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = LoadConfig(WithConfigPath(""))
	require.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	// No endpoint in the file: the override supplies it before validation
	require.NoError(t, os.WriteFile(path, []byte("dataDir: ./state\n"), 0600))

	cfg, err := LoadConfig(
		WithConfigPath(path),
		WithOverrides(func(c *Config) { c.Remote.Endpoint = "https://api.example.com" }),
		WithOverrides(func(c *Config) { c.DataDir = "/var/lib/cadence-sync" }),
	)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.Remote.Endpoint)
	assert.Equal(t, "/var/lib/cadence-sync", cfg.DataDir)

	_, err = LoadConfig(WithConfigPath(path), WithOverrides(nil))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	// Default has no endpoint, everything else is valid
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.endpoint")

	cfg.Remote.Endpoint = "http://localhost:8080"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 25*time.Second, cfg.Refresh.BudgetDuration())
	assert.Equal(t, 30*time.Second, cfg.Connectivity.ProbeIntervalDuration())
	assert.Equal(t, 5*time.Second, cfg.Connectivity.ProbeTimeoutDuration())
	assert.Equal(t, StorageTypeFile, cfg.GetStorageType())
	assert.Empty(t, cfg.API.Address)
}
