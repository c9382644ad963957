// guardcli is the license enforcement agent. It authenticates the
// account, binds this machine's fingerprint, launches the configured
// payload, and then keeps the session alive with heartbeats until the
// license runs out or the process is told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"guardcli/internal/app"
	"guardcli/internal/config"
	"guardcli/internal/license"
)

// Exit codes mirror the session's terminal states so wrappers can
// distinguish an expired license from an operational failure.
const (
	exitOK      = 0
	exitFailed  = 1
	exitExpired = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "path to YAML config file (falls back to GUARD_CONFIG_FILE)")
	email := flag.String("email", "", "account email (falls back to GUARD_EMAIL, then cached credentials)")
	password := flag.String("password", "", "account password (falls back to GUARD_PASSWORD, then cached credentials)")
	remember := flag.Bool("remember", false, "cache credentials, encrypted with the device fingerprint")
	forget := flag.Bool("forget", false, "clear cached credentials and exit")
	showFingerprint := flag.Bool("fingerprint", false, "print the device fingerprint and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitFailed
	}

	application, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		return exitFailed
	}
	defer application.Close()

	if *showFingerprint {
		fmt.Println(application.Fingerprints.Generate().Fingerprint)
		return exitOK
	}
	if *forget {
		application.Credentials.Clear()
		fmt.Println("cached credentials cleared")
		return exitOK
	}

	creds, ok := resolveCredentials(application, *email, *password)
	if !ok {
		fmt.Fprintln(os.Stderr, "no credentials: pass -email and -password, set GUARD_EMAIL/GUARD_PASSWORD, or run once with -remember")
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runDone := make(chan error, 1)
	go func() { runDone <- application.Run(ctx) }()

	if err := application.StartSession(ctx, creds, *remember); err != nil {
		application.Logger.Error("failed to start session", slog.String("error", err.Error()))
		return exitFailed
	}

	outcome, err := application.WaitForOutcome(ctx)
	stop()
	if runErr := <-runDone; runErr != nil {
		application.Logger.Error("agent error", slog.String("error", runErr.Error()))
	}

	if err != nil {
		// Interrupted before a terminal state: a deliberate stop, not a failure
		return exitOK
	}
	if outcome.State == license.StateExpired && cfg.License.RenewalURL != "" {
		fmt.Fprintf(os.Stderr, "Renew your license at %s\n", cfg.License.RenewalURL)
	}
	return exitCode(outcome)
}

// resolveCredentials picks credentials from flags, environment, or the
// encrypted cache, in that order.
func resolveCredentials(application *app.Application, email, password string) (license.Credentials, bool) {
	if email == "" {
		email = os.Getenv("GUARD_EMAIL")
	}
	if password == "" {
		password = os.Getenv("GUARD_PASSWORD")
	}
	if email != "" && password != "" {
		return license.Credentials{Email: email, Password: password}, true
	}
	return application.RememberedCredentials()
}

// exitCode maps a terminal outcome to the process exit code
func exitCode(outcome *license.Outcome) int {
	switch outcome.State {
	case license.StateStopped:
		return exitOK
	case license.StateExpired:
		fmt.Fprintln(os.Stderr, outcome.Message)
		return exitExpired
	default:
		fmt.Fprintln(os.Stderr, outcome.Message)
		return exitFailed
	}
}
