// Package payload holds the go/no-go boundary between license
// enforcement and whatever the agent protects. The license core only
// ever delivers a launch signal; acquiring, verifying, or supervising
// the protected program is entirely the installer's business.
package payload

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// Installer receives the go signal once a license session reaches
// monitoring. Launch is called at most once per session.
type Installer interface {
	Launch(ctx context.Context) error
}

// NoopInstaller satisfies Installer without launching anything. Used
// when the agent runs in monitor-only mode.
type NoopInstaller struct{}

// Launch does nothing
func (NoopInstaller) Launch(ctx context.Context) error { return nil }

// CommandInstaller launches a configured local executable. The process
// is detached from the session context on purpose: a stopped or
// expired session does not kill a payload that already started.
type CommandInstaller struct {
	command string
	args    []string
	logger  *slog.Logger
}

// NewCommandInstaller creates an installer for the given executable
func NewCommandInstaller(command string, args []string, logger *slog.Logger) *CommandInstaller {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandInstaller{
		command: command,
		args:    args,
		logger:  logger.With(slog.String("component", "payload")),
	}
}

// Launch starts the payload executable without waiting for it to exit
func (c *CommandInstaller) Launch(ctx context.Context) error {
	if c.command == "" {
		return fmt.Errorf("no payload command configured")
	}

	cmd := exec.Command(c.command, c.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch payload %q: %w", c.command, err)
	}

	c.logger.InfoContext(ctx, "payload launched",
		slog.String("command", c.command),
		slog.Int("pid", cmd.Process.Pid),
	)

	// Reap the process in the background so it never zombies
	go func() {
		if err := cmd.Wait(); err != nil {
			c.logger.Warn("payload exited with error",
				slog.String("command", c.command),
				slog.String("error", err.Error()),
			)
		}
	}()

	return nil
}
