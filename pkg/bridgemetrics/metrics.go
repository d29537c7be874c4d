// Package bridgemetrics exposes the bridge's operational metrics
// through the OpenTelemetry metrics API, bridged onto a Prometheus
// registry for scraping: active session count, per-session queue
// depth, sessions created, and tool calls emitted to the Host.
package bridgemetrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
)

// Metrics holds the bridge's OpenTelemetry instruments, exported via a
// Prometheus bridge registry.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	activeSessions  metric.Int64Gauge
	queueDepth      metric.Int64Gauge
	sessionsCreated metric.Int64Counter
	toolCallsTotal  metric.Int64Counter
}

// New creates a Metrics instance with its own isolated registry and
// meter provider.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg), otelprom.WithNamespace("duo_workflow_bridge"))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("duo_workflow_bridge")

	m := &Metrics{registry: reg, provider: provider}

	if m.activeSessions, err = meter.Int64Gauge("active_sessions",
		metric.WithDescription("Number of workflow sessions currently registered.")); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64Gauge("session_queue_depth",
		metric.WithDescription("Number of buffered events awaiting consumption, per session.")); err != nil {
		return nil, err
	}
	if m.sessionsCreated, err = meter.Int64Counter("sessions_created_total",
		metric.WithDescription("Number of workflow sessions created in the session registry.")); err != nil {
		return nil, err
	}
	if m.toolCallsTotal, err = meter.Int64Counter("tool_calls_total",
		metric.WithDescription("Number of tool calls emitted to the Host, by Host tool name.")); err != nil {
		return nil, err
	}

	return m, nil
}

// SetActiveSessions records the current session registry size.
func (m *Metrics) SetActiveSessions(ctx context.Context, n int) {
	m.activeSessions.Record(ctx, int64(n))
}

// SetQueueDepth records the buffered-event count for one session.
func (m *Metrics) SetQueueDepth(ctx context.Context, hostSessionID string, depth int) {
	m.queueDepth.Record(ctx, int64(depth), metric.WithAttributes(attribute.String("host_session_id", hostSessionID)))
}

// IncSessionsCreated increments the sessions-created counter.
func (m *Metrics) IncSessionsCreated(ctx context.Context) {
	m.sessionsCreated.Add(ctx, 1)
}

// IncToolCall increments the tool-calls counter for toolName.
func (m *Metrics) IncToolCall(ctx context.Context, toolName string) {
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr, blocking until
// ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
		_ = m.provider.Shutdown(context.Background())
	}()

	bridgelog.Info(ctx, "metrics server listening", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
