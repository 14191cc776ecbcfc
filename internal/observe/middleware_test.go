package observe

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var capturedCID string
	handler := Middleware(m, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if len(capturedCID) != 32 {
		t.Fatalf("correlation ID = %q; want 32 hex chars", capturedCID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != capturedCID {
		t.Errorf("X-Correlation-ID = %q; want %q", got, capturedCID)
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	var capturedCID string
	handler := Middleware(m, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/voices", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if capturedCID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("correlation ID = %q; want incoming trace ID", capturedCID)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m, reader, exp := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /voices/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	Middleware(m, discardLogger())(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voices/ana", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", rec.Code)
	}

	rm := collect(t, reader)
	met := findMetric(rm, "voiceclone.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}

	var route string
	var status int64
	for _, dp := range histogramPoints(t, met) {
		v, _ := dp.Attributes.Value("path")
		route = v.AsString()
		s, _ := dp.Attributes.Value("status")
		status = s.AsInt64()
	}
	if route != "GET /voices/{id}" {
		t.Errorf("path attribute = %q; want route pattern", route)
	}
	if status != http.StatusNotFound {
		t.Errorf("status attribute = %d; want 404", status)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d; want 1", len(spans))
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_LogsServerErrorsAtErrorLevel(t *testing.T) {
	m, _, _ := testSetup(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Middleware(m, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/clone", nil))

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "request completed") {
		t.Errorf("log = %q; want ERROR request completed", out)
	}
}

func TestProvider_HandlerServesMetrics(t *testing.T) {
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	p, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordUpload(context.Background(), StatusOK, "", 0)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "voiceclone_upload_requests") {
		t.Error("metrics output missing voiceclone_upload_requests")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing Go runtime collector")
	}
}
