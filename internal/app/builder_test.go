package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stacklok/cadence-sync/internal/app/storage"
	"github.com/stacklok/cadence-sync/internal/config"
	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/telemetry"
)

func createValidTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Type = config.StorageTypeMemory
	cfg.Remote.Endpoint = "http://127.0.0.1:1"
	return cfg
}

func TestBaseConfig(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()))
	require.NoError(t, err)
	assert.Equal(t, "./data", built.dataDir)
	assert.NotNil(t, built.clock)
	assert.Empty(t, built.handlers)
}

func TestBaseConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []SyncAppOptions
		wantErr string
	}{
		{name: "config required", opts: nil, wantErr: "config is required"},
		{name: "nil config", opts: []SyncAppOptions{WithConfig(nil)}, wantErr: "config cannot be nil"},
		{
			name:    "empty data dir",
			opts:    []SyncAppOptions{WithConfig(createValidTestConfig()), WithDataDirectory("")},
			wantErr: "data directory cannot be empty",
		},
		{
			name:    "nil clock",
			opts:    []SyncAppOptions{WithConfig(createValidTestConfig()), WithClock(nil)},
			wantErr: "clock cannot be nil",
		},
		{
			name:    "handler without type",
			opts:    []SyncAppOptions{WithConfig(createValidTestConfig()), WithHandler("", queue.HandlerFunc(nil))},
			wantErr: "operation type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := baseConfig(tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, built)
		})
	}
}

func TestBaseConfig_Overrides(t *testing.T) {
	t.Parallel()

	factory := storage.NewMemoryFactory()
	client := &http.Client{}
	mw := func(next http.Handler) http.Handler { return next }

	built, err := baseConfig(
		WithConfig(createValidTestConfig()),
		WithDataDirectory("/var/lib/cadence-sync"),
		WithStorageFactory(factory),
		WithHTTPClient(client),
		WithMiddlewares(mw),
		WithHandler("local", queue.HandlerFunc(nil)),
	)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cadence-sync", built.dataDir)
	assert.Same(t, factory, built.storageFactory)
	assert.Same(t, client, built.httpClient)
	assert.Len(t, built.middlewares, 1)
	assert.Contains(t, built.handlers, "local")
}

func TestBuildHTTPServer(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig()
	cfg.API.Address = "127.0.0.1:7077"
	built, err := baseConfig(WithConfig(cfg))
	require.NoError(t, err)

	srv, err := buildHTTPServer(built, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7077", srv.Addr)
	assert.NotNil(t, srv.Handler)
	assert.Equal(t, defaultReadHeaderTimeout, srv.ReadHeaderTimeout)
	assert.Len(t, built.middlewares, 4, "default middleware chain")
}

func TestBuildHTTPServer_MetricsHandler(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig()
	cfg.API.Address = "127.0.0.1:7077"
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	built, err := baseConfig(WithConfig(cfg), WithMetricsHandler(metrics))
	require.NoError(t, err)

	srv, err := buildHTTPServer(built, nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestBuildHTTPServer_TelemetryMiddleware(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	cfg := createValidTestConfig()
	cfg.API.Address = "127.0.0.1:7077"
	built, err := baseConfig(WithConfig(cfg), WithMeterProvider(mp), WithTracer(tp.Tracer(telemetry.TracerName)))
	require.NoError(t, err)

	srv, err := buildHTTPServer(built, nil)
	require.NoError(t, err)
	assert.Len(t, built.middlewares, 6, "tracing and request metrics join the chain")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /health", spans[0].Name)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var found bool
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name == telemetry.HTTPMetricsMeterName {
			found = len(scope.Metrics) > 0
		}
	}
	assert.True(t, found, "control API request metrics recorded")
}
