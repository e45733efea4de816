// Package app provides the cobra commands of the cadence-sync CLI.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/cadence-sync/internal/config"
	"github.com/stacklok/cadence-sync/internal/versions"
)

// rootOptions carries the viper instance shared by every subcommand. Values
// come from flags first, then CADENCE_SYNC_* environment variables.
type rootOptions struct {
	v *viper.Viper
}

// NewRootCmdViper returns a viper instance reading CADENCE_SYNC_* variables,
// with dots in keys mapped to underscores
func NewRootCmdViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	o := &rootOptions{v: NewRootCmdViper()}

	rootCmd := &cobra.Command{
		Use:               "cadence-sync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Background synchronization coordinator",
		Long: `cadence-sync runs background refreshes that remind the user when an assessment
is due, and keeps an offline queue of write operations that is drained, in order,
whenever the network is reachable.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML format)")
	flags.String("data-dir", "", "Directory holding the refresh record and the queue database")
	flags.String("endpoint", "", "Base URL of the remote service")
	for flag, key := range map[string]string{
		"config":   "config",
		"data-dir": "data_dir",
		"endpoint": "remote.endpoint",
	} {
		if err := o.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
		}
	}

	rootCmd.AddCommand(
		newRunCmd(o),
		newRefreshCmd(o),
		newQueueCmd(o),
		newAuthCmd(o),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

func printVersion(w io.Writer, format string) error {
	info := versions.Get()
	if format == "json" {
		return writeJSON(w, info)
	}
	_, err := fmt.Fprintln(w, info.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
