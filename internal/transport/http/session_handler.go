// Package http exposes the agent's local status API. The API is a
// presentation surface for shells running on the same machine: it can
// start and stop the license session, report its state, and hand out a
// websocket feed of runner events. It never talks to the license
// server itself.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"guardcli/internal/infrastructure"
	"guardcli/internal/license"
	ws "guardcli/internal/websocket"
)

// SessionController is the slice of the task runner the API needs
type SessionController interface {
	Start(ctx context.Context, creds license.Credentials) error
	Stop()
	State() license.State
	Active() bool
	LastOutcome() *license.Outcome
	LastStatus() *license.Status
}

// SessionHandler handles session lifecycle requests from local shells
type SessionHandler struct {
	runner   SessionController
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewSessionHandler creates a session handler
func NewSessionHandler(runner SessionController, hub *ws.Hub, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		runner: runner,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API listens on loopback only; shells are local
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("handler", "session")),
	}
}

// StartSessionRequest carries the credentials for a session start
type StartSessionRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Bind implements render.Binder
func (s *StartSessionRequest) Bind(r *http.Request) error {
	if s.Email == "" {
		return errors.New("email is required")
	}
	if s.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// SessionStatusResponse describes the session for polling shells
type SessionStatusResponse struct {
	State     license.State    `json:"state"`
	Active    bool             `json:"active"`
	Status    *license.Status  `json:"status,omitempty"`
	Outcome   *license.Outcome `json:"outcome,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ErrorResponse is the API's uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Routes returns a chi router for session endpoints
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Post("/start", h.Start)
	r.Post("/stop", h.Stop)

	return r
}

// GetStatus handles GET /api/session/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SessionStatusResponse{
		State:     h.runner.State(),
		Active:    h.runner.Active(),
		Status:    h.runner.LastStatus(),
		Outcome:   h.runner.LastOutcome(),
		Timestamp: time.Now().UTC(),
	})
}

// Start handles POST /api/session/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &StartSessionRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, h.errorResponse(ctx, "INVALID_REQUEST", err.Error()))
		return
	}

	creds := license.Credentials{Email: req.Email, Password: req.Password}
	// The session must outlive this request, so it gets a context that
	// survives the handler returning.
	if err := h.runner.Start(context.WithoutCancel(ctx), creds); err != nil {
		status := http.StatusInternalServerError
		if license.IsKind(err, license.KindBusy) {
			status = http.StatusConflict
		}
		h.logger.WarnContext(ctx, "session start rejected",
			slog.String("error", err.Error()))
		render.Status(r, status)
		render.JSON(w, r, h.errorResponse(ctx, string(license.KindOf(err)), err.Error()))
		return
	}

	h.logger.InfoContext(ctx, "session start accepted",
		slog.String("email", req.Email))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{
		"accepted": true,
		"message":  "session starting",
	})
}

// Stop handles POST /api/session/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.runner.Stop()
	h.logger.InfoContext(r.Context(), "session stop requested")
	render.JSON(w, r, map[string]any{
		"stopped": true,
		"state":   h.runner.State(),
	})
}

// ServeEvents handles GET /ws, upgrading to a websocket event feed
func (h *SessionHandler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()))
		return
	}
	ws.ServeWS(h.hub, conn, h.logger)
}

func (h *SessionHandler) errorResponse(ctx context.Context, code, message string) ErrorResponse {
	return ErrorResponse{
		Error:   code,
		Message: message,
		TraceID: infrastructure.GetTraceID(ctx),
	}
}
