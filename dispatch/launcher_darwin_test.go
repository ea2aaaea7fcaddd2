//go:build darwin

package dispatch

import (
	"context"
	"errors"
	"testing"

	"ci-medic/logger"
)

func TestOsascriptLauncher_SpawnFailure(t *testing.T) {
	l := &osascriptLauncher{binary: "/nonexistent/osascript", log: logger.Nop()}
	err := l.Launch(context.Background(), "return 1")
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestOsascriptLauncher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &osascriptLauncher{binary: "osascript", log: logger.Nop()}
	if err := l.Launch(ctx, "return 1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
