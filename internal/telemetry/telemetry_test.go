package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_RecordDispatch(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.RecordDispatch(ctx, "analyze_image", "ok", 1.5)
	m.RecordDispatch(ctx, "analyze_image", "ok", 0.5)
	m.RecordDispatch(ctx, "send_text", "rate_limit", 0.1)
	m.RecordSandboxRun(ctx, true)

	got := collect(t, reader)

	sum, ok := got["tutor.dispatches"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected dispatch data %T", got["tutor.dispatches"].Data)
	}
	counts := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		op, _ := dp.Attributes.Value(attribute.Key("operation"))
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		counts[op.AsString()+"/"+outcome.AsString()] = dp.Value
	}
	if counts["analyze_image/ok"] != 2 || counts["send_text/rate_limit"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	hist, ok := got["tutor.dispatch.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected duration data %T", got["tutor.dispatch.duration"].Data)
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("expected 3 duration samples, got %d", total)
	}

	if _, ok := got["sandbox.runs"]; !ok {
		t.Error("expected sandbox.runs metric")
	}
}

func TestInit_Disabled(t *testing.T) {
	m, cleanup, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	m.RecordDispatch(context.Background(), "send_text", "ok", 0.2)
}

func TestInit_ExportsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics", "metrics.ndjson")
	m, cleanup, err := Init(context.Background(), Config{Enabled: true, Path: path, Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	m.RecordDispatch(context.Background(), "generate_image", "ok", 2)
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected exported metrics on shutdown")
	}
}

func TestHTTPHandler_RecordsRequests(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	h := HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), mp)

	for _, path := range []string{"/ping", "/ws/sandbox"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := collect(t, reader); len(got) != 0 {
		t.Fatalf("filtered paths must not be measured, got %d metrics", len(got))
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := collect(t, reader); len(got) == 0 {
		t.Error("expected request metrics")
	}
}
