package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// ConsoleLogger writes human-readable log lines to stderr.
type ConsoleLogger struct {
	level      Level
	color      bool
	baseFields []Field
	out        io.Writer
	mu         *sync.Mutex
}

// NewConsole creates a console logger with the given minimum level.
// Colour is applied only when requested and stderr is a terminal.
func NewConsole(level Level, useColor bool) *ConsoleLogger {
	return &ConsoleLogger{
		level: level,
		color: useColor && !color.NoColor,
		out:   os.Stderr,
		mu:    &sync.Mutex{},
	}
}

func (c *ConsoleLogger) Debug(msg string, fields ...Field) { c.log(LevelDebug, msg, fields) }
func (c *ConsoleLogger) Info(msg string, fields ...Field)  { c.log(LevelInfo, msg, fields) }
func (c *ConsoleLogger) Warn(msg string, fields ...Field)  { c.log(LevelWarn, msg, fields) }
func (c *ConsoleLogger) Error(msg string, fields ...Field) { c.log(LevelError, msg, fields) }

func (c *ConsoleLogger) WithFields(fields ...Field) Logger {
	return &ConsoleLogger{
		level:      c.level,
		color:      c.color,
		baseFields: mergeFields(c.baseFields, fields),
		out:        c.out,
		mu:         c.mu,
	}
}

func (c *ConsoleLogger) Close() error { return nil }

func (c *ConsoleLogger) log(level Level, msg string, fields []Field) {
	if level < c.level {
		return
	}

	tag := fmt.Sprintf("[%-5s]", level.String())
	if c.color {
		tag = levelColors[level].Sprint(tag)
	}
	line := fmt.Sprintf("%s %s %s%s\n",
		time.Now().Format("2006-01-02 15:04:05"), tag, msg,
		FormatFields(mergeFields(c.baseFields, fields)))

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, line)
}
