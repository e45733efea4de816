package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer(TracerName)
}

func TestTracingMiddleware_NilTracer(t *testing.T) {
	t.Parallel()

	called := false
	wrapped := TracingMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/refresh", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestTracingMiddleware_NamesSpanByRoute(t *testing.T) {
	t.Parallel()

	exporter, tracer := newTestTracer(t)

	var handlerSpan trace.SpanContext
	r := chi.NewRouter()
	r.Use(TracingMiddleware(tracer))
	r.Delete("/v1/operations/{id}", func(w http.ResponseWriter, req *http.Request) {
		handlerSpan = trace.SpanContextFromContext(req.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/operations/op-1", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "DELETE /v1/operations/{id}", span.Name)
	assert.Equal(t, trace.SpanKindServer, span.SpanKind)
	assert.Equal(t, codes.Ok, span.Status.Code)
	assert.Equal(t, span.SpanContext.SpanID(), handlerSpan.SpanID(), "handler sees the server span")

	attrs := map[string]any{}
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "/v1/operations/{id}", attrs[string(semconv.HTTPRouteKey)])
	assert.Equal(t, int64(http.StatusNoContent), attrs[string(semconv.HTTPResponseStatusCodeKey)])
}

func TestTracingMiddleware_ErrorStatus(t *testing.T) {
	t.Parallel()

	exporter, tracer := newTestTracer(t)
	wrapped := TracingMiddleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "GET "+unknownRoute, spans[0].Name, "no chi router, no pattern")
}

func TestTracingMiddleware_ContinuesCallerTrace(t *testing.T) {
	// Not parallel: sets the global propagator
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter, tracer := newTestTracer(t)
	wrapped := TracingMiddleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	traceID := "0af7651916cd43dd8448eb211c80319c"
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, traceID, spans[0].SpanContext.TraceID().String())
	assert.True(t, spans[0].Parent.IsRemote())
}
