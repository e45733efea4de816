package app

import (
	"context"
	"fmt"

	syncapp "github.com/stacklok/cadence-sync/internal/app"
	"github.com/stacklok/cadence-sync/internal/config"
)

// overlayKeys maps viper keys (flags or CADENCE_SYNC_* variables) to the
// configuration fields they override
func overlayKeys(c *config.Config) map[string]*string {
	return map[string]*string{
		"data_dir":                   &c.DataDir,
		"remote.endpoint":            &c.Remote.Endpoint,
		"api.address":                &c.API.Address,
		"connectivity.probe_address": &c.Connectivity.ProbeAddress,
		"auth.keyring_service":       &c.Auth.KeyringService,
		"auth.keyring_user":          &c.Auth.KeyringUser,
	}
}

func (o *rootOptions) applyOverrides(c *config.Config) {
	for key, field := range overlayKeys(c) {
		if value := o.v.GetString(key); value != "" {
			*field = value
		}
	}
	if st := o.v.GetString("storage.type"); st != "" {
		c.Storage.Type = config.StorageType(st)
	}
}

// loadConfig reads the configuration file when one is given, otherwise starts
// from the defaults, and overlays flags and environment variables
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.v.GetString("config")
	if path != "" {
		cfg, err := config.LoadConfig(config.WithConfigPath(path), config.WithOverrides(o.applyOverrides))
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		return cfg, nil
	}

	cfg := config.Default()
	o.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration and builds the app. The caller must Close it.
func (o *rootOptions) openApp(ctx context.Context, opts ...syncapp.SyncAppOptions) (*syncapp.SyncApp, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return syncapp.NewSyncApp(ctx, append([]syncapp.SyncAppOptions{syncapp.WithConfig(cfg)}, opts...)...)
}
