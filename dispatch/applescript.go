package dispatch

import (
	"fmt"
	"strings"
)

// TerminalApp names the macOS terminal that receives the command.
type TerminalApp string

const (
	ITerm    TerminalApp = "iTerm"
	Terminal TerminalApp = "Terminal"
)

// ParseTerminalApp maps a config value to a TerminalApp. Empty means iTerm.
func ParseTerminalApp(s string) (TerminalApp, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "iterm", "iterm2":
		return ITerm, nil
	case "terminal":
		return Terminal, nil
	default:
		return "", fmt.Errorf("unknown terminal app %q (want iTerm or Terminal)", s)
	}
}

// EscapeAppleScript escapes s for use inside an AppleScript string literal.
// Only backslash and double quote are special there.
func EscapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// TerminalScript builds the script that opens a new window in app and types
// command into it. command is escaped here; callers pass it unescaped.
func TerminalScript(app TerminalApp, command string) string {
	escaped := EscapeAppleScript(command)
	if app == Terminal {
		return fmt.Sprintf(`tell application "Terminal"
    activate
    do script "%s"
end tell`, escaped)
	}
	return fmt.Sprintf(`tell application "iTerm"
    activate
    create window with default profile
    tell current session of window 1
        write text "%s"
    end tell
end tell`, escaped)
}
