// Package main is the entry point for the cadence-sync background synchronization coordinator.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/stacklok/cadence-sync/cmd/cadence-sync/app"
	"github.com/stacklok/cadence-sync/internal/config"
	"github.com/stacklok/cadence-sync/internal/logging"
)

// getLogLevel reads CADENCE_SYNC_LOG_LEVEL, falling back to LOG_LEVEL.
// Defaults to slog.LevelInfo if neither is set or if the value is invalid.
func getLogLevel() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := logging.ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

func main() {
	// Logs go to stderr so stdout stays clean for command output
	slog.SetDefault(slog.New(logging.NewHandler(logging.WithLevel(getLogLevel()))))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
