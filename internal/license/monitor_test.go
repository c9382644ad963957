package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 5 * time.Millisecond

// monitoringSession returns a session already in the monitoring state
func monitoringSession(t *testing.T, client *fakeClient) *Session {
	t.Helper()
	session := NewSession(client, "FINGERPRINT", nil)
	require.Nil(t, session.Establish(context.Background(), testCreds(), nil))
	return session
}

func TestMonitorExpiresOnInvalidHeartbeat(t *testing.T) {
	client := healthyClient()
	client.statusFn = func(call int) (Status, error) {
		if call < 3 {
			return Status{Valid: true, TimeRemaining: TimeRemaining{Hours: 2, TotalMinutes: 120}}, nil
		}
		return Status{Valid: false, Message: "License expired."}, nil
	}

	monitor := NewMonitor(monitoringSession(t, client), testInterval, nil)
	outcome := monitor.Run(context.Background())

	assert.Equal(t, StateExpired, outcome.State)
	assert.Equal(t, KindExpired, outcome.Kind)
	assert.Equal(t, "License expired.", outcome.Message)
}

func TestMonitorExpiresOnZeroBalanceDespiteValidFlag(t *testing.T) {
	client := healthyClient()
	client.statusFn = func(int) (Status, error) {
		return Status{Valid: true, TimeRemaining: TimeRemaining{TotalMinutes: 0}}, nil
	}

	monitor := NewMonitor(monitoringSession(t, client), testInterval, nil)
	outcome := monitor.Run(context.Background())

	assert.Equal(t, StateExpired, outcome.State)
	assert.Equal(t, "License time exhausted.", outcome.Message)
}

func TestMonitorFailsClosedOnTransportError(t *testing.T) {
	client := healthyClient()
	client.statusFn = func(int) (Status, error) {
		return Status{}, NewError(KindTransport, "license server unreachable")
	}

	monitor := NewMonitor(monitoringSession(t, client), testInterval, nil)
	outcome := monitor.Run(context.Background())

	// An unreachable server stops granting use, never a silent retry
	assert.Equal(t, StateExpired, outcome.State)
	assert.Equal(t, KindTransport, outcome.Kind)
	assert.Contains(t, outcome.Message, "unreachable")
}

func TestMonitorNeverExpiresHealthySession(t *testing.T) {
	client := healthyClient()
	client.statusFn = func(call int) (Status, error) {
		if call >= 5 {
			return Status{Valid: false, Message: "done"}, nil
		}
		return Status{Valid: true, TimeRemaining: TimeRemaining{Days: 1, TotalMinutes: 1440}}, nil
	}

	session := monitoringSession(t, client)
	monitor := NewMonitor(session, testInterval, nil)

	var ticks []Status
	monitor.OnTick = func(s Status) { ticks = append(ticks, s) }

	outcome := monitor.Run(context.Background())

	// Four healthy ticks surfaced before the terminal fifth
	assert.Len(t, ticks, 4)
	for _, tick := range ticks {
		assert.True(t, tick.Valid)
		assert.Positive(t, tick.TimeRemaining.TotalMinutes)
	}
	assert.Equal(t, StateExpired, outcome.State)
}

func TestMonitorStopsOnCancellation(t *testing.T) {
	client := healthyClient()
	session := monitoringSession(t, client)
	monitor := NewMonitor(session, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan *Outcome, 1)
	go func() { result <- monitor.Run(ctx) }()

	cancel()

	select {
	case outcome := <-result:
		assert.Equal(t, StateStopped, outcome.State)
		assert.Equal(t, StateStopped, session.State())
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not observe cancellation")
	}

	// The long interval never elapsed: no heartbeat went out
	assert.NotContains(t, client.Calls(), "heartbeat")
}

func TestMonitorSurfacesDecomposedTime(t *testing.T) {
	fixtures := []TimeRemaining{
		{Days: 5, Hours: 0, Minutes: 0, TotalMinutes: 7200},
		{Days: 4, Hours: 23, Minutes: 59, TotalMinutes: 7199},
		{Days: 0, Hours: 1, Minutes: 30, TotalMinutes: 90},
		{Days: 0, Hours: 0, Minutes: 1, TotalMinutes: 1},
	}
	for _, fixture := range fixtures {
		require.True(t, fixture.Consistent(), "fixture %+v must satisfy the decomposition invariant", fixture)
	}

	client := healthyClient()
	client.statusFn = func(call int) (Status, error) {
		if call > len(fixtures) {
			return Status{Valid: false}, nil
		}
		return Status{Valid: true, TimeRemaining: fixtures[call-1]}, nil
	}

	monitor := NewMonitor(monitoringSession(t, client), testInterval, nil)

	var seen []TimeRemaining
	monitor.OnTick = func(s Status) { seen = append(seen, s.TimeRemaining) }

	monitor.Run(context.Background())
	assert.Equal(t, fixtures, seen)
}
