package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/stacklok/cadence-sync/internal/auth"
	"github.com/stacklok/cadence-sync/internal/config"
)

func newAuthCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the token stored in the OS keyring",
	}

	// The keyring entry does not depend on the rest of the configuration, so
	// these commands work before a remote endpoint is configured
	keyring := func() (*auth.KeyringAuthenticator, error) {
		cfg := config.Default()
		if o.v.GetString("config") != "" {
			loaded, err := o.loadConfig()
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else {
			o.applyOverrides(cfg)
		}
		return auth.NewKeyringAuthenticator(cfg.Auth.KeyringService, cfg.Auth.KeyringUser), nil
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Store an OAuth2 token (JSON) read from --file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file) // #nosec G304 -- path supplied by the local user
				if err != nil {
					return fmt.Errorf("failed to open token file: %w", err)
				}
				defer f.Close()
				r = f
			}

			var token oauth2.Token
			if err := json.NewDecoder(r).Decode(&token); err != nil {
				return fmt.Errorf("token must be OAuth2 token JSON: %w", err)
			}
			k, err := keyring()
			if err != nil {
				return err
			}
			if err := k.SaveToken(&token); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Token stored")
			return err
		},
	}
	importCmd.Flags().String("file", "", "Read the token from this file instead of stdin")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a usable token is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := keyring()
			if err != nil {
				return err
			}
			state := "not authenticated"
			if k.IsAuthenticated() {
				state = "authenticated"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), state)
			return err
		},
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := keyring()
			if err != nil {
				return err
			}
			if err := k.Clear(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Token deleted")
			return err
		},
	}

	cmd.AddCommand(importCmd, statusCmd, logoutCmd)
	return cmd
}
