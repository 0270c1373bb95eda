package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the pipeline's instruments. A nil *Metrics records nothing,
// so components can be built without telemetry in tests.
type Metrics struct {
	checks       metric.Int64Counter
	probeLatency metric.Int64Histogram
	publishes    metric.Int64Counter
	consumed     metric.Int64Counter
	incidents    metric.Int64Counter
	alerts       metric.Int64Counter
}

func NewMetrics(m metric.Meter) (*Metrics, error) {
	var (
		out Metrics
		err error
	)
	if out.checks, err = m.Int64Counter("apiwatch.checks",
		metric.WithDescription("Endpoint checks by verdict")); err != nil {
		return nil, err
	}
	if out.probeLatency, err = m.Int64Histogram("apiwatch.probe.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall clock time of one probe request")); err != nil {
		return nil, err
	}
	if out.publishes, err = m.Int64Counter("apiwatch.publishes",
		metric.WithDescription("Result publishes by outcome")); err != nil {
		return nil, err
	}
	if out.consumed, err = m.Int64Counter("apiwatch.consumed",
		metric.WithDescription("Consumed result messages by outcome")); err != nil {
		return nil, err
	}
	if out.incidents, err = m.Int64Counter("apiwatch.incidents",
		metric.WithDescription("Incident writes by reason and action")); err != nil {
		return nil, err
	}
	if out.alerts, err = m.Int64Counter("apiwatch.alerts",
		metric.WithDescription("Incident summary deliveries by outcome")); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Metrics) CheckDone(ctx context.Context, reachable bool, latencyMS int64) {
	if m == nil {
		return
	}
	m.checks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("reachable", reachable)))
	m.probeLatency.Record(ctx, latencyMS)
}

func (m *Metrics) Published(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(outcome(ok)))
}

func (m *Metrics) Consumed(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.consumed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) IncidentRecorded(ctx context.Context, reason, action string) {
	if m == nil {
		return
	}
	m.incidents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("action", action),
	))
}

func (m *Metrics) AlertSent(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(outcome(ok)))
}

func outcome(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("outcome", "ok")
	}
	return attribute.String("outcome", "error")
}
