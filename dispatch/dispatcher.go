package dispatch

import (
	"context"

	"ci-medic/logger"
)

// Dispatcher renders a CLI command for a PR and opens it in a terminal.
type Dispatcher struct {
	launcher Launcher
	app      TerminalApp
	log      logger.Logger
}

// New creates a Dispatcher. An empty app means iTerm.
func New(launcher Launcher, app TerminalApp, log logger.Logger) *Dispatcher {
	if app == "" {
		app = ITerm
	}
	return &Dispatcher{launcher: launcher, app: app, log: log}
}

// Preview returns the command Open would type into the terminal.
func (d *Dispatcher) Preview(req Request) (string, error) {
	return RenderCommand(req)
}

// Open renders req and launches it in a new terminal window.
func (d *Dispatcher) Open(ctx context.Context, req Request) error {
	command, err := RenderCommand(req)
	if err != nil {
		return err
	}
	log := d.log.WithFields(
		logger.String("repo", req.Repo),
		logger.Int64("pr", req.Number),
		logger.String("terminal", string(d.app)),
	)
	if err := d.launcher.Launch(ctx, TerminalScript(d.app, command)); err != nil {
		log.Warn("dispatch.launch_failed", logger.Err(err))
		return err
	}
	log.Info("dispatch.launched", logger.Int("command_len", len(command)))
	return nil
}
