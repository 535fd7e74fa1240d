// Package telemetry records dispatch and sandbox metrics with OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ashureev/visual-study-buddy/internal/tutor"
)

const (
	serviceName = "visual-study-buddy"
	meterName   = "github.com/ashureev/visual-study-buddy"
)

// Config controls metric export.
type Config struct {
	Enabled  bool
	Path     string
	Interval time.Duration
}

// Metrics holds the application instruments.
type Metrics struct {
	dispatches  metric.Int64Counter
	duration    metric.Float64Histogram
	sandboxRuns metric.Int64Counter
}

// Ensure Metrics implements tutor.Metrics.
var _ tutor.Metrics = (*Metrics)(nil)

// NewMetrics creates instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	dispatches, err := meter.Int64Counter("tutor.dispatches",
		metric.WithDescription("Settled tutor requests by operation and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create dispatch counter: %w", err)
	}
	duration, err := meter.Float64Histogram("tutor.dispatch.duration",
		metric.WithDescription("Duration of tutor requests"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create dispatch histogram: %w", err)
	}
	sandboxRuns, err := meter.Int64Counter("sandbox.runs",
		metric.WithDescription("Sandbox executions by result"))
	if err != nil {
		return nil, fmt.Errorf("create sandbox counter: %w", err)
	}
	return &Metrics{dispatches: dispatches, duration: duration, sandboxRuns: sandboxRuns}, nil
}

// RecordDispatch implements tutor.Metrics.
func (m *Metrics) RecordDispatch(ctx context.Context, op, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	m.dispatches.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

// RecordSandboxRun counts one sandbox execution.
func (m *Metrics) RecordSandboxRun(ctx context.Context, failed bool) {
	m.sandboxRuns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("failed", failed)))
}

// Init sets up the global meter provider. Metrics are exported periodically
// to a rotated file. When disabled, instruments are no-ops.
func Init(ctx context.Context, cfg Config) (*Metrics, func(), error) {
	if !cfg.Enabled {
		m, err := NewMetrics(noop.NewMeterProvider().Meter(meterName))
		return m, func() {}, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}

	// Set up file writer for metrics with rotation
	metricsFile := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    10, // 10 MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	m, err := NewMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown meter provider", "error", err)
		}
		if err := metricsFile.Close(); err != nil {
			slog.Error("failed to close metrics file", "error", err)
		}
	}

	slog.Info("Telemetry initialized", "path", cfg.Path, "interval", cfg.Interval)
	return m, cleanup, nil
}

// HTTPHandler wraps next with request metrics recorded on mp. Heartbeats and
// websocket upgrades are not measured.
func HTTPHandler(next http.Handler, mp metric.MeterProvider) http.Handler {
	return otelhttp.NewHandler(next, serviceName,
		otelhttp.WithMeterProvider(mp),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/ping" && !strings.HasPrefix(r.URL.Path, "/ws/")
		}),
	)
}
