package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_NilPassesThrough(t *testing.T) {
	t.Parallel()

	metrics, err := NewHTTPMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	mw, err := MetricsMiddleware(nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/operations", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestHTTPMetrics_RecordsRoutePattern(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	mw, err := MetricsMiddleware(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(mw)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/operations/{id}/retry", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
		})
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/operations/"+id+"/retry", nil))
		require.Equal(t, http.StatusConflict, rr.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests metricdata.Sum[int64]
	var foundDuration bool
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != HTTPMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			switch m.Name {
			case "cadence_sync_http_requests_total":
				requests = m.Data.(metricdata.Sum[int64])
			case "cadence_sync_http_request_duration_seconds":
				foundDuration = true
			}
		}
	}
	assert.True(t, foundDuration)

	// Both ids collapse onto one series
	require.Len(t, requests.DataPoints, 1)
	dp := requests.DataPoints[0]
	assert.Equal(t, int64(2), dp.Value)
	route, _ := dp.Attributes.Value(attribute.Key("route"))
	assert.Equal(t, "/v1/operations/{id}/retry", route.AsString())
	status, _ := dp.Attributes.Value(attribute.Key("status_code"))
	assert.Equal(t, "409", status.AsString())
}

func TestHTTPMetrics_UnknownRoute(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewHTTPMetrics(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/no/such/path", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "cadence_sync_http_requests_total" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			require.Len(t, sum.DataPoints, 1)
			route, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("route"))
			assert.Equal(t, unknownRoute, route.AsString())
			return
		}
	}
	t.Fatal("request counter not recorded")
}
