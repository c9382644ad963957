package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies license metrics in OpenTelemetry
const MeterName = "guardcli/license"

// Metrics holds OpenTelemetry instruments for license operations
type Metrics struct {
	OperationAttempts metric.Int64Counter
	OperationFailures metric.Int64Counter
	OperationDuration metric.Float64Histogram

	HeartbeatsSent    metric.Int64Counter
	HeartbeatFailures metric.Int64Counter
	MinutesRemaining  metric.Int64Gauge
}

// NewMetrics creates license metrics on the global meter provider
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(MeterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.OperationAttempts, err = meter.Int64Counter(
		"license_operation_attempts_total",
		metric.WithDescription("Total number of license protocol operations attempted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation attempts counter: %w", err)
	}

	m.OperationFailures, err = meter.Int64Counter(
		"license_operation_failures_total",
		metric.WithDescription("Total number of failed license protocol operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation failures counter: %w", err)
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License protocol operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	m.HeartbeatsSent, err = meter.Int64Counter(
		"license_heartbeats_sent_total",
		metric.WithDescription("Total number of heartbeats sent to the license server"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeats counter: %w", err)
	}

	m.HeartbeatFailures, err = meter.Int64Counter(
		"license_heartbeat_failures_total",
		metric.WithDescription("Total number of heartbeats that failed or came back invalid"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat failures counter: %w", err)
	}

	m.MinutesRemaining, err = meter.Int64Gauge(
		"license_minutes_remaining",
		metric.WithDescription("Server-reported license time balance in minutes"),
		metric.WithUnit("min"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create minutes remaining gauge: %w", err)
	}

	return m, nil
}

// RecordOperation records one protocol operation's outcome
func (m *Metrics) RecordOperation(ctx context.Context, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", op))
	m.OperationAttempts.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		m.OperationFailures.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("operation", op),
				attribute.String("kind", string(KindOf(err))),
			))
	}
}

// RecordHeartbeat records one heartbeat tick's outcome
func (m *Metrics) RecordHeartbeat(ctx context.Context, status *Status, err error) {
	if m == nil {
		return
	}

	m.HeartbeatsSent.Add(ctx, 1)
	if err != nil || (status != nil && status.Expired()) {
		m.HeartbeatFailures.Add(ctx, 1)
	}
	if err == nil && status != nil {
		m.MinutesRemaining.Record(ctx, int64(status.TimeRemaining.TotalMinutes))
	}
}
