package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Monitor drives periodic license re-validation for a session in the
// monitoring state. Each tick sleeps one interval, sends a heartbeat,
// and evaluates the server's answer. The loop is unbounded and runs
// until expiry, failure, or cancellation of the context.
//
// The monitor is fail-closed: a heartbeat that cannot reach the server
// stops granting use instead of running unmonitored.
type Monitor struct {
	session  *Session
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	// OnTick receives each healthy heartbeat status for display
	OnTick func(Status)
}

// NewMonitor creates a heartbeat monitor for an established session
func NewMonitor(session *Session, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		session:  session,
		interval: interval,
		logger:   logger.With(slog.String("component", "heartbeat_monitor")),
	}
}

// SetMetrics attaches OpenTelemetry metrics recording
func (m *Monitor) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Run executes the heartbeat loop until a terminal condition and
// returns the session's final outcome. Cancellation is observed while
// waiting, so a stop signal takes effect within at most one interval.
// If cancellation races a completing heartbeat, the later transition
// wins.
func (m *Monitor) Run(ctx context.Context) *Outcome {
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.session.Stop(ctx)
		case <-timer.C:
		}

		status, err := m.session.Heartbeat(ctx)
		m.metrics.RecordHeartbeat(ctx, &status, err)

		if err != nil {
			// A stop that arrived while the call was in flight is a
			// stop, not an expiry.
			if ctx.Err() != nil {
				return m.session.Stop(ctx)
			}
			m.logger.WarnContext(ctx, "heartbeat failed, treating license as invalid",
				slog.String("error", err.Error()),
			)
			return m.session.Expire(ctx, KindOf(err),
				fmt.Sprintf("License check unreachable: %v", err))
		}

		if !status.Valid {
			message := status.Message
			if message == "" {
				message = "License expired or invalid."
			}
			return m.session.Expire(ctx, KindExpired, message)
		}

		// Guard against a server inconsistency: a zero balance expires
		// the license even when the valid flag still says otherwise.
		if status.TimeRemaining.TotalMinutes <= 0 {
			return m.session.Expire(ctx, KindExpired, "License time exhausted.")
		}

		m.logger.DebugContext(ctx, "heartbeat ok",
			slog.String("plan", status.Plan),
			slog.Int("total_minutes", status.TimeRemaining.TotalMinutes),
			slog.String("remaining", status.TimeRemaining.String()),
		)
		if m.OnTick != nil {
			m.OnTick(status)
		}

		timer.Reset(m.interval)
	}
}
