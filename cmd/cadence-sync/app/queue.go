package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/cadence-sync/internal/queue"
)

func newQueueCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline operation queue",
		Long: `Inspect and manage the offline operation queue.

These commands open the data directory directly and fail while a "cadence-sync run"
process holds it; use the control API of the running process instead.`,
	}

	cmd.AddCommand(
		newQueueEnqueueCmd(o),
		newQueueListCmd(o),
		newQueueDrainCmd(o),
		newQueueRetryCmd(o),
		newQueueDiscardCmd(o),
	)
	return cmd
}

func newQueueEnqueueCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue TYPE [PAYLOAD]",
		Short: "Append an operation; PAYLOAD is JSON, or - to read it from stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if len(args) == 2 {
				if args[1] == "-" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("failed to read payload: %w", err)
					}
					payload = data
				} else {
					payload = json.RawMessage(args[1])
				}
			}

			sa, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer sa.Close()

			id, err := sa.Enqueue(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
}

func newQueueListCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			sa, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer sa.Close()

			ops, err := sa.Operations(cmd.Context())
			if err != nil {
				return err
			}
			if format == "json" {
				if ops == nil {
					ops = []queue.Operation{}
				}
				return writeJSON(cmd.OutOrStdout(), ops)
			}
			return renderOperations(cmd.OutOrStdout(), ops)
		},
	}
	cmd.Flags().String("format", "table", "Output format (table or json)")
	return cmd
}

func renderOperations(w io.Writer, ops []queue.Operation) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Type", "Status", "Attempts", "Created", "Next Attempt", "Last Error")

	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		next := "-"
		if op.NextAttemptAt != nil {
			next = op.NextAttemptAt.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			op.ID,
			op.Type,
			string(op.Status),
			strconv.Itoa(op.AttemptCount),
			op.CreatedAt.Format(time.RFC3339),
			next,
			op.LastError,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to render operations: %w", err)
	}
	return table.Render()
}

func newQueueDrainCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one drain pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sa, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer sa.Close()

			res, err := sa.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newQueueRetryCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Move a quarantined operation back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sa, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer sa.Close()

			if err := sa.Retry(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to retry %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Operation %s requeued\n", args[0])
			return err
		},
	}
}

func newQueueDiscardCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard ID",
		Short: "Delete a quarantined operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sa, err := o.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer sa.Close()

			if err := sa.Discard(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to discard %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Operation %s discarded\n", args[0])
			return err
		},
	}
}
