package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTemplate is returned when the command template is blank after trimming.
	ErrEmptyTemplate = errors.New("CLI command template is empty")
	// ErrUnsupportedPlatform is returned by launchers on platforms without terminal automation.
	ErrUnsupportedPlatform = errors.New("opening a CLI session is only available on macOS")
)

// LaunchError means the scripting engine process could not be spawned.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch terminal: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }
