package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	syncapp "github.com/stacklok/cadence-sync/internal/app"
	"github.com/stacklok/cadence-sync/internal/telemetry"
	"github.com/stacklok/cadence-sync/internal/versions"
)

const defaultGracefulTimeout = 30 * time.Second

func newRunCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync coordinator until interrupted",
		Long: `Run the sync coordinator: observe connectivity, drain the offline queue whenever
the network is reachable, and serve the local control API when an address is set.

Reachability is probed when connectivity.probeAddress is configured; otherwise the
host pushes it through PUT /v1/connectivity.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context())
		},
	}

	cmd.Flags().String("api-address", "", "Listen address of the local control API (empty disables it)")
	cmd.Flags().String("probe-address", "", "host:port dialled to decide reachability")
	cmd.Flags().Duration("shutdown-timeout", defaultGracefulTimeout, "Time allowed for a graceful shutdown")
	for flag, key := range map[string]string{
		"api-address":      "api.address",
		"probe-address":    "connectivity.probe_address",
		"shutdown-timeout": "shutdown_timeout",
	} {
		if err := o.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
		}
	}

	return cmd
}

func (o *rootOptions) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	info := versions.Get()
	slog.Info("Starting cadence-sync", "version", info.Version, "data_dir", cfg.DataDir, "endpoint", cfg.Remote.Endpoint)

	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = info.Version
	}
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	timeout := o.v.GetDuration("shutdown_timeout")
	if timeout <= 0 {
		timeout = defaultGracefulTimeout
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to flush telemetry", "error", err)
		}
	}()

	sa, err := syncapp.NewSyncApp(ctx,
		syncapp.WithConfig(cfg),
		syncapp.WithMeterProvider(tel.MeterProvider()),
		syncapp.WithTracer(tel.Tracer()),
		syncapp.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to build sync app: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(sa.Start)
	g.Go(func() error {
		<-gctx.Done()
		return sa.Stop(timeout)
	})
	return g.Wait()
}
