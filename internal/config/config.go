// Package config provides configuration loading and management for the sync coordinator.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/cadence-sync/internal/telemetry"
)

// EnvPrefix is the prefix used for environment variable overrides
const EnvPrefix = "CADENCE_SYNC"

const (
	defaultDataDir          = "./data"
	defaultMinInterval      = "4h"
	defaultCadenceDays      = 90
	defaultBudget           = "25s"
	defaultMaxAttempts      = 5
	defaultOperationTimeout = "30s"
	defaultInitialBackoff   = "2s"
	defaultMaxBackoff       = "10m"
	defaultBackoffFactor    = 2.0
	defaultRemoteTimeout    = "15s"
	defaultProbeInterval    = "30s"
	defaultProbeTimeout     = "5s"
	defaultKeyringService   = "cadence-sync"
	defaultKeyringUser      = "default"
	defaultNotifyTitle      = "Time for your check-in"
	defaultNotifyBody       = "A new assessment is ready for you."
)

// StorageType selects the persistence backend
type StorageType string

const (
	// StorageTypeFile keeps state under DataDir (JSON record plus SQLite queue)
	StorageTypeFile StorageType = "file"

	// StorageTypeMemory keeps state in memory only
	StorageTypeMemory StorageType = "memory"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path      string
	overrides []func(*Config)
}

// WithOverrides applies fn to the parsed configuration before it is
// validated, e.g. to overlay environment variables and flags
func WithOverrides(fn func(*Config)) Option {
	return func(cfg *loaderConfig) error {
		if fn == nil {
			return fmt.Errorf("override function cannot be nil")
		}
		cfg.overrides = append(cfg.overrides, fn)
		return nil
	}
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this also cleans the path.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DataDir is where the refresh record and the operation queue are stored
	DataDir string `yaml:"dataDir,omitempty"`

	Storage      StorageConfig      `yaml:"storage"`
	Refresh      RefreshConfig      `yaml:"refresh"`
	Queue        QueueConfig        `yaml:"queue"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Auth         AuthConfig         `yaml:"auth"`
	API          APIConfig          `yaml:"api"`
	Telemetry    *telemetry.Config  `yaml:"telemetry,omitempty"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	// Type is "file" (default) or "memory"
	Type StorageType `yaml:"type,omitempty"`
}

// GetStorageType returns the configured storage type, defaulting to file
func (c *Config) GetStorageType() StorageType {
	if c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// RefreshConfig defines the background refresh policy
type RefreshConfig struct {
	// MinInterval is the minimum time between two completed refresh runs (e.g., "4h")
	MinInterval string `yaml:"minInterval,omitempty"`

	// CadenceDays is the assessment cadence, also used as the notification window
	CadenceDays int `yaml:"cadenceDays,omitempty"`

	// Budget is the execution budget granted by the host; the CLI expires the
	// task when it elapses
	Budget string `yaml:"budget,omitempty"`

	Notification NotificationConfig `yaml:"notification"`
}

// NotificationConfig holds the text of the local "assessment due" notification
type NotificationConfig struct {
	Title string `yaml:"title,omitempty"`
	Body  string `yaml:"body,omitempty"`
}

// QueueConfig defines the offline operation queue policy
type QueueConfig struct {
	// MaxAttempts is the retry ceiling after which an operation is quarantined
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// OperationTimeout bounds each remote call made during a drain
	OperationTimeout string `yaml:"operationTimeout,omitempty"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig defines the exponential backoff between attempts of one operation
type BackoffConfig struct {
	InitialInterval string  `yaml:"initialInterval,omitempty"`
	MaxInterval     string  `yaml:"maxInterval,omitempty"`
	Multiplier      float64 `yaml:"multiplier,omitempty"`
}

// RemoteConfig defines the assessment API endpoint
type RemoteConfig struct {
	// Endpoint is the base API URL (without path)
	Endpoint string `yaml:"endpoint"`

	// Timeout is the HTTP client timeout
	Timeout string `yaml:"timeout,omitempty"`
}

// ConnectivityConfig defines how reachability is probed when the host does not push it
type ConnectivityConfig struct {
	// ProbeAddress is a host:port dialled to decide reachability.
	// When empty, reachability must be pushed by the host.
	ProbeAddress  string `yaml:"probeAddress,omitempty"`
	ProbeInterval string `yaml:"probeInterval,omitempty"`
	ProbeTimeout  string `yaml:"probeTimeout,omitempty"`
}

// AuthConfig identifies the keyring entry holding the user's token
type AuthConfig struct {
	KeyringService string `yaml:"keyringService,omitempty"`
	KeyringUser    string `yaml:"keyringUser,omitempty"`
}

// APIConfig controls the local control API
type APIConfig struct {
	// Address is the listen address, e.g. "127.0.0.1:7077". Empty disables the API.
	Address string `yaml:"address,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.ApplyDefaults()
	for _, fn := range loaderCfg.overrides {
		fn(&config)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every field set to its default
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unset field with its default value
func (c *Config) ApplyDefaults() {
	setString(&c.DataDir, defaultDataDir)

	setString(&c.Refresh.MinInterval, defaultMinInterval)
	if c.Refresh.CadenceDays == 0 {
		c.Refresh.CadenceDays = defaultCadenceDays
	}
	setString(&c.Refresh.Budget, defaultBudget)
	setString(&c.Refresh.Notification.Title, defaultNotifyTitle)
	setString(&c.Refresh.Notification.Body, defaultNotifyBody)

	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = defaultMaxAttempts
	}
	setString(&c.Queue.OperationTimeout, defaultOperationTimeout)
	setString(&c.Queue.Backoff.InitialInterval, defaultInitialBackoff)
	setString(&c.Queue.Backoff.MaxInterval, defaultMaxBackoff)
	if c.Queue.Backoff.Multiplier == 0 {
		c.Queue.Backoff.Multiplier = defaultBackoffFactor
	}

	setString(&c.Remote.Timeout, defaultRemoteTimeout)
	setString(&c.Connectivity.ProbeInterval, defaultProbeInterval)
	setString(&c.Connectivity.ProbeTimeout, defaultProbeTimeout)
	setString(&c.Auth.KeyringService, defaultKeyringService)
	setString(&c.Auth.KeyringUser, defaultKeyringUser)
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	durations := []struct {
		name  string
		value string
	}{
		{"refresh.minInterval", c.Refresh.MinInterval},
		{"refresh.budget", c.Refresh.Budget},
		{"queue.operationTimeout", c.Queue.OperationTimeout},
		{"queue.backoff.initialInterval", c.Queue.Backoff.InitialInterval},
		{"queue.backoff.maxInterval", c.Queue.Backoff.MaxInterval},
		{"remote.timeout", c.Remote.Timeout},
		{"connectivity.probeInterval", c.Connectivity.ProbeInterval},
		{"connectivity.probeTimeout", c.Connectivity.ProbeTimeout},
	}
	for _, d := range durations {
		if err := validateDuration(d.name, d.value); err != nil {
			return err
		}
	}

	switch c.GetStorageType() {
	case StorageTypeFile, StorageTypeMemory:
	default:
		return fmt.Errorf("storage.type must be %q or %q, got %q", StorageTypeFile, StorageTypeMemory, c.Storage.Type)
	}
	if c.Refresh.CadenceDays < 1 {
		return fmt.Errorf("refresh.cadenceDays must be positive, got %d", c.Refresh.CadenceDays)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.maxAttempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.Backoff.Multiplier < 1 {
		return fmt.Errorf("queue.backoff.multiplier must be at least 1, got %g", c.Queue.Backoff.Multiplier)
	}
	if c.Remote.Endpoint == "" {
		return fmt.Errorf("remote.endpoint is required")
	}
	if c.API.Address != "" {
		if _, _, err := net.SplitHostPort(c.API.Address); err != nil {
			return fmt.Errorf("api.address must be host:port: %w", err)
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func validateDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '4h'): %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}

// MinIntervalDuration returns the parsed minimum refresh interval
func (r *RefreshConfig) MinIntervalDuration() time.Duration {
	return mustDuration(r.MinInterval, defaultMinInterval)
}

// CadenceWindow returns the cadence expressed as a duration
func (r *RefreshConfig) CadenceWindow() time.Duration {
	return time.Duration(r.CadenceDays) * 24 * time.Hour
}

// BudgetDuration returns the parsed execution budget
func (r *RefreshConfig) BudgetDuration() time.Duration {
	return mustDuration(r.Budget, defaultBudget)
}

// OperationTimeoutDuration returns the parsed per-operation timeout
func (q *QueueConfig) OperationTimeoutDuration() time.Duration {
	return mustDuration(q.OperationTimeout, defaultOperationTimeout)
}

// InitialIntervalDuration returns the parsed initial backoff interval
func (b *BackoffConfig) InitialIntervalDuration() time.Duration {
	return mustDuration(b.InitialInterval, defaultInitialBackoff)
}

// MaxIntervalDuration returns the parsed maximum backoff interval
func (b *BackoffConfig) MaxIntervalDuration() time.Duration {
	return mustDuration(b.MaxInterval, defaultMaxBackoff)
}

// TimeoutDuration returns the parsed HTTP timeout
func (r *RemoteConfig) TimeoutDuration() time.Duration {
	return mustDuration(r.Timeout, defaultRemoteTimeout)
}

// ProbeIntervalDuration returns the parsed probe interval
func (c *ConnectivityConfig) ProbeIntervalDuration() time.Duration {
	return mustDuration(c.ProbeInterval, defaultProbeInterval)
}

// ProbeTimeoutDuration returns the parsed probe dial timeout
func (c *ConnectivityConfig) ProbeTimeoutDuration() time.Duration {
	return mustDuration(c.ProbeTimeout, defaultProbeTimeout)
}

// mustDuration parses value, falling back to def for values that failed validation
func mustDuration(value, def string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}
