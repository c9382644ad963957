package license

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the session state machine's position
type State string

// Session states. Idle is initial; Expired, Failed and Stopped are
// terminal.
const (
	StateIdle                State = "idle"
	StateAuthenticating      State = "authenticating"
	StateCheckingLicense     State = "checking_license"
	StateBindingFingerprint  State = "binding_fingerprint"
	StateMonitoring          State = "monitoring"
	StateExpired             State = "expired"
	StateFailed              State = "failed"
	StateStopped             State = "stopped"
)

// Terminal reports whether the state ends the session
func (s State) Terminal() bool {
	switch s {
	case StateExpired, StateFailed, StateStopped:
		return true
	}
	return false
}

// Outcome is the single final event a session emits on entering a
// terminal state.
type Outcome struct {
	State      State   `json:"state"`
	Kind       Kind    `json:"kind,omitempty"`
	Message    string  `json:"message"`
	LastStatus *Status `json:"last_status,omitempty"`
}

// Session drives the ordered license sequence
// authenticate → check license → bind fingerprint → monitoring.
// Transitions are applied only under the session mutex, so two racing
// responses can never both apply one; when a stop signal races a
// completing heartbeat, the later of the two transitions wins.
//
// Every transition is driven by the most recent protocol response.
// The session holds no independent notion of elapsed time or validity:
// the server is the single source of truth for remaining license time.
type Session struct {
	client      ProtocolClient
	fingerprint string
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	token      string
	check      CheckResult
	lastStatus *Status
	outcome    *Outcome
}

// NewSession creates a session in the Idle state
func NewSession(client ProtocolClient, fingerprint string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client:      client,
		fingerprint: fingerprint,
		logger:      logger.With(slog.String("component", "license_session")),
		state:       StateIdle,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fingerprint returns the machine fingerprint this session binds
func (s *Session) Fingerprint() string {
	return s.fingerprint
}

// CheckResult returns the authenticated license check response
func (s *Session) CheckResult() CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check
}

// Outcome returns the terminal outcome, or nil while the session is
// still live.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// transition moves the state machine under the mutex
func (s *Session) transition(ctx context.Context, to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "session state transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

// fail ends the session in a terminal failure state
func (s *Session) fail(ctx context.Context, state State, kind Kind, message string) *Outcome {
	s.mu.Lock()
	s.state = state
	s.token = ""
	outcome := &Outcome{
		State:      state,
		Kind:       kind,
		Message:    message,
		LastStatus: s.lastStatus,
	}
	s.outcome = outcome
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session ended",
		slog.String("state", string(state)),
		slog.String("kind", string(kind)),
		slog.String("message", message),
	)
	return outcome
}

// Establish runs the authentication sequence. On success the session
// is left in StateMonitoring and the returned outcome is nil; on
// failure the session is terminal and the outcome describes why. The
// progress callback receives the same milestones the interactive shell
// renders. Credentials are not retained past this call.
func (s *Session) Establish(ctx context.Context, creds Credentials, progress func(percent int, status string)) *Outcome {
	if progress == nil {
		progress = func(int, string) {}
	}

	s.mu.Lock()
	if s.state != StateIdle {
		current := s.state
		s.mu.Unlock()
		return &Outcome{
			State:   current,
			Kind:    KindBusy,
			Message: ErrSessionActive.Error(),
		}
	}
	s.state = StateAuthenticating
	s.mu.Unlock()

	progress(20, "Connecting to server...")

	token, err := s.client.Authenticate(ctx, creds)
	if err != nil {
		return s.fail(ctx, StateFailed, KindOf(err), authFailureMessage(err))
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.transition(ctx, StateCheckingLicense)
	progress(50, "Checking license...")

	check, err := s.client.CheckLicense(ctx, token)
	if err != nil {
		return s.fail(ctx, StateFailed, KindOf(err), err.Error())
	}
	if !check.Valid {
		return s.fail(ctx, StateFailed, KindExpired,
			"License expired or invalid. Renew to continue.")
	}

	s.mu.Lock()
	s.check = check
	s.mu.Unlock()
	s.transition(ctx, StateBindingFingerprint)
	progress(80, "Validating hardware...")

	if err := s.client.BindFingerprint(ctx, token, s.fingerprint); err != nil {
		return s.fail(ctx, StateFailed, KindOf(err), err.Error())
	}

	s.transition(ctx, StateMonitoring)
	progress(100, "")

	s.logger.InfoContext(ctx, "license session established",
		slog.Int("days_remaining", check.DaysRemaining),
	)
	return nil
}

// Heartbeat issues one heartbeat for this session. It refuses to call
// the server unless the session is in the monitoring state, preserving
// the protocol ordering invariant.
func (s *Session) Heartbeat(ctx context.Context) (Status, error) {
	s.mu.Lock()
	if s.state != StateMonitoring {
		s.mu.Unlock()
		return Status{}, ErrNotMonitoring
	}
	s.mu.Unlock()

	status, err := s.client.Heartbeat(ctx, s.fingerprint)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	copied := status
	s.lastStatus = &copied
	s.mu.Unlock()

	return status, nil
}

// Expire ends a monitoring session because the server declared the
// license invalid or unreachable (fail-closed).
func (s *Session) Expire(ctx context.Context, kind Kind, message string) *Outcome {
	return s.fail(ctx, StateExpired, kind, message)
}

// Stop ends the session in response to an external stop signal
func (s *Session) Stop(ctx context.Context) *Outcome {
	return s.fail(ctx, StateStopped, "", "monitoring stopped")
}

// authFailureMessage maps authentication failures to shell-facing text
func authFailureMessage(err error) string {
	switch KindOf(err) {
	case KindTransport:
		return fmt.Sprintf("Could not reach the license server: %v", err)
	case KindCredential:
		return "Invalid credentials."
	}
	return err.Error()
}
