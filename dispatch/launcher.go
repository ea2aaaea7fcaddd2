package dispatch

import "context"

// Launcher hands a terminal automation script to the operating system.
// Launch returns once the script engine is running; it does not wait for
// the terminal session.
type Launcher interface {
	Launch(ctx context.Context, script string) error
}
