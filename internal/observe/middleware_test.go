package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// telemetry bundles a manual metric reader and an in-memory span
// exporter wired as the global tracer provider for one test. Tests in
// this file cannot run in parallel because of that global swap.
type telemetry struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newTelemetry(t *testing.T) *telemetry {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return &telemetry{metrics: m, reader: reader, spans: spans}
}

// serve runs one request through the middleware-wrapped handler and
// returns the recorder.
func (tel *telemetry) serve(t *testing.T, req *http.Request, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Middleware(tel.metrics)(handler).ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	tel := newTelemetry(t)

	var cid string
	rec := tel.serve(t, httptest.NewRequest("GET", "/test", nil),
		func(w http.ResponseWriter, r *http.Request) {
			cid = CorrelationID(r.Context())
			w.WriteHeader(http.StatusOK)
		})

	if cid == "" {
		t.Error("handler context carries no correlation id")
	}
	if len(cid) != 32 {
		t.Errorf("correlation id length = %d, want a 32-hex trace id", len(cid))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_CreatesSpan(t *testing.T) {
	tel := newTelemetry(t)

	tel.serve(t, httptest.NewRequest("GET", "/span-test", nil), okHandler)

	spans := tel.spans.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	if spans[0].Name != "HTTP GET /span-test" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /span-test")
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	tel := newTelemetry(t)

	tel.serve(t, httptest.NewRequest("GET", "/metrics-test", nil), okHandler)

	var rm metricdata.ResourceMetrics
	if err := tel.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "chime.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("histogram has no data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	got := map[string]string{}
	for _, kv := range dp.Attributes.ToSlice() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["method"] != "GET" || got["path"] != "/metrics-test" {
		t.Errorf("attributes = %v, want method=GET path=/metrics-test", got)
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	tel := newTelemetry(t)

	rec := tel.serve(t, httptest.NewRequest("GET", "/not-found", nil),
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

	if rec.Code != http.StatusNotFound {
		t.Errorf("response status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := tel.spans.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code")
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	tel := newTelemetry(t)
	const wantTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	var cid string
	req := httptest.NewRequest("GET", "/propagate", nil)
	req.Header.Set("traceparent", "00-"+wantTrace+"-00f067aa0ba902b7-01")
	rec := tel.serve(t, req, func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	if cid != wantTrace {
		t.Errorf("correlation id = %q, want the inbound trace id %q", cid, wantTrace)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != wantTrace {
		t.Errorf("X-Correlation-ID = %q, want %q", got, wantTrace)
	}
}
