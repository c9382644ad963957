package license

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventType discriminates runner events
type EventType string

// Runner event types. Each task emits ordered Progress/Status events
// terminated by exactly one Finished event.
const (
	EventProgress  EventType = "progress"
	EventStatus    EventType = "status"
	EventHeartbeat EventType = "heartbeat"
	EventFinished  EventType = "finished"
)

// Event is one asynchronous notification to the presentation shell
type Event struct {
	Type     EventType `json:"type"`
	Progress int       `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
	Success  bool      `json:"success,omitempty"`
	Status   *Status   `json:"status,omitempty"`
}

// Launcher is the payload-installer boundary. It is invoked exactly
// once, after the session first reaches monitoring, and receives
// nothing from the license core beyond the go signal itself.
type Launcher func(ctx context.Context) error

// Runner executes the session state machine and heartbeat monitor off
// the caller's goroutine so an interactive shell never blocks on
// network I/O. At most one task sequence is in flight at a time;
// starting another while one runs is rejected with a busy error.
type Runner struct {
	client      ProtocolClient
	fingerprint string
	interval    time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	launch      Launcher

	mu          sync.Mutex
	active      bool
	session     *Session
	cancel      context.CancelFunc
	done        chan struct{}
	lastOutcome *Outcome

	events  chan Event
	dropped int
}

// NewRunner creates a task runner for the given protocol client and
// machine fingerprint.
func NewRunner(client ProtocolClient, fingerprint string, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:      client,
		fingerprint: fingerprint,
		interval:    interval,
		logger:      logger.With(slog.String("component", "task_runner")),
		events:      make(chan Event, 64),
	}
}

// SetMetrics attaches OpenTelemetry metrics recording
func (r *Runner) SetMetrics(m *Metrics) {
	r.metrics = m
}

// SetLauncher installs the payload go/no-go hook
func (r *Runner) SetLauncher(l Launcher) {
	r.launch = l
}

// Events returns the shell-facing notification stream. Progress,
// status, and heartbeat events are dropped, never blocked on, when no
// consumer keeps up; each task's Finished event survives backpressure.
// The last outcome also stays queryable through LastOutcome.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// State returns the active session's state, or Idle when none runs
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return StateIdle
	}
	return r.session.State()
}

// Active reports whether a task sequence is in flight
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// LastOutcome returns the most recent terminal outcome, if any
func (r *Runner) LastOutcome() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOutcome
}

// LastStatus returns the most recent server-reported license status
func (r *Runner) LastStatus() *Status {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()

	if session == nil {
		return nil
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.lastStatus
}

// Start launches the authentication-and-monitoring sequence in the
// background. It returns a busy error while a previous sequence is
// still in flight.
func (r *Runner) Start(ctx context.Context, creds Credentials) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return WrapError(KindBusy, "another license task is already running", ErrSessionActive)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.active = true
	r.session = NewSession(r.client, r.fingerprint, r.logger)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	session := r.session
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		r.run(runCtx, session, creds)
	}()

	return nil
}

// Stop signals the active sequence to end and waits for it to settle.
// A monitoring session transitions to stopped within at most one
// heartbeat interval.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// run drives one full sequence: establish, then monitor
func (r *Runner) run(ctx context.Context, session *Session, creds Credentials) {
	outcome := session.Establish(ctx, creds, func(percent int, status string) {
		r.emit(Event{Type: EventProgress, Progress: percent})
		if status != "" {
			r.emit(Event{Type: EventStatus, Message: status})
		}
	})
	if outcome != nil {
		r.finish(outcome)
		return
	}

	check := session.CheckResult()
	r.emit(Event{
		Type:    EventFinished,
		Success: true,
		Message: fmt.Sprintf("License active! Days remaining: %d", check.DaysRemaining),
	})

	r.launchPayload(ctx)

	monitor := NewMonitor(session, r.interval, r.logger)
	monitor.SetMetrics(r.metrics)
	monitor.OnTick = func(status Status) {
		copied := status
		r.emit(Event{
			Type:    EventHeartbeat,
			Message: "Time remaining: " + status.TimeRemaining.String(),
			Status:  &copied,
		})
	}

	r.finish(monitor.Run(ctx))
}

// launchPayload fires the go signal once monitoring begins. A payload
// that fails to launch does not invalidate the license session; the
// failure is surfaced to the shell and logged, nothing more.
func (r *Runner) launchPayload(ctx context.Context) {
	if r.launch == nil {
		return
	}
	if err := r.launch(ctx); err != nil {
		r.logger.WarnContext(ctx, "payload launch failed",
			slog.String("error", err.Error()),
		)
		r.emit(Event{Type: EventStatus, Message: "Payload launch failed: " + err.Error()})
	}
}

// finish emits the final event, then records the terminal outcome.
// Emitting first means the Finished event is already queued by the
// time the runner reports inactive, so a follow-up task can never
// interleave its events with the previous task's terminal event.
func (r *Runner) finish(outcome *Outcome) {
	r.emitTerminal(Event{
		Type:    EventFinished,
		Success: outcome.State == StateStopped,
		Message: outcome.Message,
	})

	r.mu.Lock()
	r.active = false
	r.lastOutcome = outcome
	r.mu.Unlock()
}

// emit delivers a progress, status, or heartbeat event without ever
// blocking the license loop. These events are advisory and may be
// dropped when no consumer keeps up.
func (r *Runner) emit(event Event) {
	select {
	case r.events <- event:
	default:
		r.noteDropped(event)
	}
}

// emitTerminal delivers a task's Finished event. Every task terminates
// with exactly one such event, so it is never dropped: when the buffer
// is full, queued advisory events are evicted to make room, preserving
// earlier Finished events in order.
func (r *Runner) emitTerminal(event Event) {
	select {
	case r.events <- event:
		return
	default:
	}

	kept := make([]Event, 0, cap(r.events))
drain:
	for {
		select {
		case queued := <-r.events:
			if queued.Type == EventFinished {
				kept = append(kept, queued)
			} else {
				r.noteDropped(queued)
			}
		default:
			break drain
		}
	}
	// Pathological case: the buffer held nothing but terminal events.
	// Sacrifice the oldest so the newest always fits.
	if len(kept) == cap(r.events) {
		r.noteDropped(kept[0])
		kept = kept[1:]
	}
	for _, queued := range kept {
		r.events <- queued
	}
	r.events <- event
}

// noteDropped accounts for an event lost to backpressure
func (r *Runner) noteDropped(event Event) {
	r.mu.Lock()
	r.dropped++
	dropped := r.dropped
	r.mu.Unlock()
	r.logger.Debug("event dropped, no consumer keeping up",
		slog.String("type", string(event.Type)),
		slog.Int("dropped_total", dropped),
	)
}
