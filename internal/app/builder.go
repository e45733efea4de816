package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/stacklok/cadence-sync/internal/api"
	"github.com/stacklok/cadence-sync/internal/app/storage"
	"github.com/stacklok/cadence-sync/internal/auth"
	"github.com/stacklok/cadence-sync/internal/config"
	"github.com/stacklok/cadence-sync/internal/connectivity"
	"github.com/stacklok/cadence-sync/internal/coordinator"
	"github.com/stacklok/cadence-sync/internal/notify"
	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
	"github.com/stacklok/cadence-sync/internal/remote"
	"github.com/stacklok/cadence-sync/internal/telemetry"
)

const (
	defaultRequestTimeout    = 60 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the builder inputs. Every collaborator can be
// injected, mostly for tests; anything left nil is built from config.
type syncAppConfig struct {
	config  *config.Config
	dataDir string

	storageFactory storage.Factory
	authenticator  refresh.Authenticator
	tokenSource    oauth2.TokenSource
	notifier       refresh.Notifier
	source         connectivity.Source
	httpClient     *http.Client
	handlers       map[string]queue.Handler
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler

	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	clock         clock.WithTickerAndDelayedExecution
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		clock:    clock.RealClock{},
		handlers: map[string]queue.Handler{},
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.dataDir == "" {
		cfg.dataDir = cfg.config.DataDir
	}

	return cfg, nil
}

// NewSyncApp builds every component from configuration. The returned app owns
// the stores; Stop (or Close) releases them.
func NewSyncApp(ctx context.Context, opts ...SyncAppOptions) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(cfg.config, cfg.dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.storageFactory.Cleanup()
		}
	}()

	components, publisher, err := buildComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	appCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app := &SyncApp{
		config:     cfg.config,
		components: components,
		factory:    cfg.storageFactory,
		publisher:  publisher,
		clock:      cfg.clock,
		budget:     cfg.config.Refresh.BudgetDuration(),
		ctx:        appCtx,
		cancelFunc: cancel,
	}
	if probe, ok := cfg.source.(*connectivity.ProbeSource); ok {
		app.settleWait = probe.Timeout() + probeSettleGrace
	}

	if cfg.config.API.Address != "" {
		app.httpServer, err = buildHTTPServer(cfg, app)
		if err != nil {
			cancel()
			return nil, err
		}
	}

	cleanupNeeded = false
	return app, nil
}

// probeSettleGrace is added to the probe timeout when waiting for the first
// probe result
const probeSettleGrace = time.Second

// buildComponents wires stores, remote client, queue, observer, scheduler and
// coordinator. The returned publisher is nil when reachability is probed.
func buildComponents(ctx context.Context, b *syncAppConfig) (*AppComponents, *connectivity.Publisher, error) {
	slog.Info("Initializing sync components", "data_dir", b.dataDir, "storage", b.config.GetStorageType())
	c := b.config

	refreshStore, err := b.storageFactory.CreateRefreshStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open refresh store: %w", err)
	}
	queueStore, err := b.storageFactory.CreateQueueStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	refreshMetrics, err := telemetry.NewRefreshMetrics(b.meterProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create refresh metrics: %w", err)
	}
	queueMetrics, err := telemetry.NewQueueMetrics(b.meterProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create queue metrics: %w", err)
	}

	if b.authenticator == nil {
		keyring := auth.NewKeyringAuthenticator(c.Auth.KeyringService, c.Auth.KeyringUser)
		b.authenticator = keyring
		if b.tokenSource == nil {
			b.tokenSource = keyring.TokenSource()
		}
	}

	if b.httpClient == nil {
		b.httpClient = &http.Client{}
		if b.tokenSource != nil {
			b.httpClient = oauth2.NewClient(ctx, b.tokenSource)
		}
		b.httpClient.Timeout = c.Remote.TimeoutDuration()
	}

	remoteClient, err := remote.NewClient(c.Remote.Endpoint,
		remote.WithHTTPClient(b.httpClient),
		remote.WithCadenceDays(c.Refresh.CadenceDays),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	queueOpts := []queue.Option{
		queue.WithDefaultHandler(remoteClient),
		queue.WithMaxAttempts(c.Queue.MaxAttempts),
		queue.WithOperationTimeout(c.Queue.OperationTimeoutDuration()),
		queue.WithBackoff(
			c.Queue.Backoff.InitialIntervalDuration(),
			c.Queue.Backoff.MaxIntervalDuration(),
			c.Queue.Backoff.Multiplier,
		),
		queue.WithClock(b.clock),
		queue.WithMetrics(queueMetrics),
		queue.WithTracer(b.tracer),
	}
	for opType, h := range b.handlers {
		queueOpts = append(queueOpts, queue.WithHandler(opType, h))
	}
	q, err := queue.New(ctx, queueStore, queueOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create queue: %w", err)
	}

	publisher, _ := b.source.(*connectivity.Publisher)
	if b.source == nil {
		if c.Connectivity.ProbeAddress != "" {
			slog.Info("Probing connectivity", "address", c.Connectivity.ProbeAddress)
			b.source = connectivity.NewProbeSource(c.Connectivity.ProbeAddress,
				connectivity.WithProbeInterval(c.Connectivity.ProbeIntervalDuration()),
				connectivity.WithProbeTimeout(c.Connectivity.ProbeTimeoutDuration()),
				connectivity.WithProbeClock(b.clock),
			)
		} else {
			slog.Info("No probe address configured, connectivity is pushed by the host")
			publisher = connectivity.NewPublisher()
			b.source = publisher
		}
	}
	observer := connectivity.NewObserver(b.source)

	if b.notifier == nil {
		b.notifier = notify.NewLogNotifier(nil)
	}

	scheduler, err := refresh.NewScheduler(
		refresh.Dependencies{
			Auth:         b.authenticator,
			Reachability: observer,
			DueChecker:   remoteClient,
			Notifier:     b.notifier,
			Store:        refreshStore,
		},
		refresh.Config{
			MinInterval:       c.Refresh.MinIntervalDuration(),
			CadenceWindow:     c.Refresh.CadenceWindow(),
			NotificationTitle: c.Refresh.Notification.Title,
			NotificationBody:  c.Refresh.Notification.Body,
		},
		refresh.WithClock(b.clock),
		refresh.WithMetrics(refreshMetrics),
		refresh.WithTracer(b.tracer),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create refresh scheduler: %w", err)
	}

	coord := coordinator.New(observer, q, coordinator.WithClock(b.clock))

	slog.Info("Sync components initialized successfully")
	return &AppComponents{
		Observer:     observer,
		Scheduler:    scheduler,
		RefreshStore: refreshStore,
		Queue:        q,
		Coordinator:  coord,
		Remote:       remoteClient,
	}, publisher, nil
}

// buildHTTPServer builds the control API server with router and middleware.
// Tracing and request metrics join the default chain when a tracer or meter
// provider was supplied.
func buildHTTPServer(b *syncAppConfig, svc api.Service) (*http.Server, error) {
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.Recoverer,
		}
		if b.tracer != nil {
			b.middlewares = append(b.middlewares, telemetry.TracingMiddleware(b.tracer))
		}
		if b.meterProvider != nil {
			metricsMw, err := telemetry.MetricsMiddleware(b.meterProvider)
			if err != nil {
				return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
			}
			b.middlewares = append(b.middlewares, metricsMw)
		}
		b.middlewares = append(b.middlewares,
			middleware.Timeout(defaultRequestTimeout),
			api.LoggingMiddleware,
		)
	}

	router := api.NewServer(svc,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
	)

	return &http.Server{
		Addr:              b.config.API.Address,
		Handler:           router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if c == nil {
			return fmt.Errorf("config cannot be nil")
		}
		cfg.config = c
		return nil
	}
}

// WithDataDirectory overrides the configured data directory
func WithDataDirectory(dir string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if dir == "" {
			return fmt.Errorf("data directory cannot be empty")
		}
		cfg.dataDir = dir
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithAuthenticator replaces the keyring authenticator. The HTTP client is
// then unauthenticated unless WithTokenSource or WithHTTPClient is also given.
func WithAuthenticator(a refresh.Authenticator) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.authenticator = a
		return nil
	}
}

// WithTokenSource sets the token source used to authenticate remote calls
func WithTokenSource(ts oauth2.TokenSource) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.tokenSource = ts
		return nil
	}
}

// WithNotifier replaces the log notifier, e.g. with a desktop notification service
func WithNotifier(n refresh.Notifier) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.notifier = n
		return nil
	}
}

// WithConnectivitySource replaces the configured connectivity source. A
// *connectivity.Publisher keeps SetReachable working.
func WithConnectivitySource(src connectivity.Source) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.source = src
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for remote calls
func WithHTTPClient(c *http.Client) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithHandler routes operations of opType to h instead of the remote service
func WithHandler(opType string, h queue.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if opType == "" || h == nil {
			return fmt.Errorf("handler requires an operation type and a handler")
		}
		cfg.handlers[opType] = h
		return nil
	}
}

// WithMetricsHandler exposes a Prometheus scrape handler on the control API
func WithMetricsHandler(h http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// WithMiddlewares replaces the default control API middleware chain
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for refresh and queue metrics
func WithMeterProvider(mp metric.MeterProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracer sets the tracer for refresh and drain spans
func WithTracer(t trace.Tracer) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.tracer = t
		return nil
	}
}

// WithClock replaces the clock (for testing)
func WithClock(c clock.WithTickerAndDelayedExecution) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}
