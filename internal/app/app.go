// Package app wires the agent together: configuration, logging,
// device identity, the license protocol client, the task runner, the
// websocket hub, and the local status API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"guardcli/internal/config"
	"guardcli/internal/infrastructure"
	"guardcli/internal/license"
	"guardcli/internal/payload"
	"guardcli/internal/security"
	handlers "guardcli/internal/transport/http"
	ws "guardcli/internal/websocket"
)

// Version is stamped at build time
var Version = "dev"

// Application is the agent's dependency container
type Application struct {
	Config       *config.Config
	Logger       *slog.Logger
	Fingerprints *security.FingerprintManager
	Credentials  *security.CredentialStore
	Client       *license.Client
	Metrics      *license.Metrics
	Runner       *license.Runner
	Hub          *ws.Hub
	Server       *http.Server
}

// New builds the application from configuration
func New(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("agent starting",
		slog.String("version", Version),
		slog.String("license_server", cfg.License.BaseURL),
	)

	fingerprints := security.NewFingerprintManager()
	fingerprint := fingerprints.Generate()

	metrics, err := license.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	client := license.NewClient(cfg.License, logger)
	client.SetMetrics(metrics)

	runner := license.NewRunner(client, fingerprint.Fingerprint, cfg.License.HeartbeatInterval, logger)
	runner.SetMetrics(metrics)

	if cfg.Payload.Enabled {
		installer := payload.NewCommandInstaller(cfg.Payload.Command, nil, logger)
		runner.SetLauncher(installer.Launch)
	}

	app := &Application{
		Config:       cfg,
		Logger:       logger,
		Fingerprints: fingerprints,
		Credentials:  security.NewCredentialStore(cfg.Paths.CredentialsFile, fingerprint.Fingerprint, logger),
		Client:       client,
		Metrics:      metrics,
		Runner:       runner,
		Hub:          ws.NewHub(logger),
	}

	if cfg.Server.Enabled {
		session := handlers.NewSessionHandler(runner, app.Hub, logger)
		app.Server = &http.Server{
			Addr:         fmt.Sprintf("localhost:%d", cfg.Server.Port),
			Handler:      handlers.NewRouter(cfg, session, fingerprints, logger),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
	}

	return app, nil
}

// Run operates the agent until the context is cancelled. It pumps
// runner events into the websocket hub and, when enabled, serves the
// local status API.
func (a *Application) Run(ctx context.Context) error {
	a.Hub.Start()
	defer a.Hub.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.pumpEvents(ctx)
		return nil
	})

	if a.Server != nil {
		g.Go(func() error {
			a.Logger.Info("status API listening", slog.String("addr", a.Server.Addr))
			if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("status API failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
			defer cancel()
			return a.Server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	a.Logger.Info("agent stopped")
	return err
}

// pumpEvents forwards runner events to every attached shell. On
// shutdown it stops the runner and flushes whatever the stop emitted,
// so attached shells always see the terminal Finished event.
func (a *Application) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.Runner.Stop()
			a.flushEvents(context.WithoutCancel(ctx))
			return
		case event := <-a.Runner.Events():
			a.Hub.BroadcastEvent(event)
			a.logEvent(ctx, event)
		}
	}
}

// flushEvents drains events already queued by a settled runner
func (a *Application) flushEvents(ctx context.Context) {
	for {
		select {
		case event := <-a.Runner.Events():
			a.Hub.BroadcastEvent(event)
			a.logEvent(ctx, event)
		default:
			return
		}
	}
}

// logEvent mirrors shell-facing events into the structured log
func (a *Application) logEvent(ctx context.Context, event license.Event) {
	switch event.Type {
	case license.EventFinished:
		a.Logger.InfoContext(ctx, "task finished",
			slog.Bool("success", event.Success),
			slog.String("message", event.Message),
		)
	case license.EventHeartbeat:
		if event.Status != nil {
			a.Logger.DebugContext(ctx, "heartbeat",
				slog.Int("minutes_remaining", event.Status.TimeRemaining.TotalMinutes),
				slog.String("plan", event.Status.Plan),
			)
		}
	default:
		a.Logger.DebugContext(ctx, "task event",
			slog.String("type", string(event.Type)),
			slog.String("message", event.Message),
		)
	}
}

// StartSession launches the license sequence with the given
// credentials, remembering them on disk when the caller asks.
func (a *Application) StartSession(ctx context.Context, creds license.Credentials, remember bool) error {
	if err := a.Runner.Start(ctx, creds); err != nil {
		return err
	}
	if remember {
		a.Credentials.Save(creds.Email, creds.Password)
	}
	return nil
}

// RememberedCredentials loads credentials cached from a prior run
func (a *Application) RememberedCredentials() (license.Credentials, bool) {
	email, password, ok := a.Credentials.Load()
	if !ok {
		return license.Credentials{}, false
	}
	return license.Credentials{Email: email, Password: password}, true
}

// Close releases application resources
func (a *Application) Close() error {
	a.Runner.Stop()
	return infrastructure.CloseLogFile()
}

// WaitForOutcome blocks until the current task sequence reaches a
// terminal state or the context ends.
func (a *Application) WaitForOutcome(ctx context.Context) (*license.Outcome, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if !a.Runner.Active() {
				if outcome := a.Runner.LastOutcome(); outcome != nil {
					return outcome, nil
				}
			}
		}
	}
}
