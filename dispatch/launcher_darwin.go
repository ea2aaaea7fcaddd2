//go:build darwin

package dispatch

import (
	"context"
	"os/exec"

	"ci-medic/logger"
)

type osascriptLauncher struct {
	binary string
	log    logger.Logger
}

// NewLauncher returns the osascript launcher.
func NewLauncher(log logger.Logger) Launcher {
	return &osascriptLauncher{binary: "osascript", log: log}
}

func (l *osascriptLauncher) Launch(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return &LaunchError{Err: err}
	}
	// Not tied to ctx: the terminal window outlives the request that opened it.
	cmd := exec.Command(l.binary, "-e", script)
	if err := cmd.Start(); err != nil {
		return &LaunchError{Err: err}
	}
	pid := cmd.Process.Pid
	l.log.Debug("dispatch.osascript_started", logger.Int("pid", pid))

	go func() {
		if err := cmd.Wait(); err != nil {
			l.log.Warn("dispatch.osascript_exited", logger.Int("pid", pid), logger.Err(err))
		}
	}()
	return nil
}
