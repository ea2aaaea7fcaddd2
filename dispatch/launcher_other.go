//go:build !darwin

package dispatch

import (
	"context"

	"ci-medic/logger"
)

type unsupportedLauncher struct{}

// NewLauncher returns a launcher that always fails with ErrUnsupportedPlatform.
func NewLauncher(logger.Logger) Launcher { return unsupportedLauncher{} }

func (unsupportedLauncher) Launch(context.Context, string) error {
	return ErrUnsupportedPlatform
}
