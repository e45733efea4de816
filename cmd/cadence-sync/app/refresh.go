package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/cadence-sync/internal/refresh"
)

// refreshResult is the JSON printed by `cadence-sync refresh`
type refreshResult struct {
	Success        bool               `json:"success"`
	Reason         refresh.Reason     `json:"reason"`
	Due            *refresh.DueStatus `json:"due,omitempty"`
	LastRunAt      *time.Time         `json:"lastRunAt,omitempty"`
	LastNotifiedAt *time.Time         `json:"lastNotifiedAt,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func newRefreshCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one background refresh invocation",
		Long: `Run one background refresh invocation, as the host scheduler would: check
whether an assessment is due and schedule a reminder if one has not been sent in
the current cadence window. The invocation is expired when the budget elapses.

The command exits non-zero when the invocation reports failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			budget, err := cmd.Flags().GetDuration("budget")
			if err != nil {
				return err
			}

			sa, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer sa.Close()

			if budget <= 0 {
				budget = sa.GetConfig().Refresh.BudgetDuration()
			}
			out := sa.RunRefreshTask(cmd.Context(), budget, nil)

			res := refreshResult{
				Success:        out.Success,
				Reason:         out.Reason,
				Due:            out.Due,
				LastRunAt:      out.Record.LastRunAt,
				LastNotifiedAt: out.Record.LastNotifiedAt,
			}
			if out.Err != nil {
				res.Error = out.Err.Error()
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("refresh failed: %s", out.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Duration("budget", 0, "Execution budget (defaults to refresh.budget)")

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete the refresh record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sa, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer sa.Close()

			if err := sa.ResetRefresh(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset refresh record: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Refresh record deleted")
			return err
		},
	})

	return cmd
}
