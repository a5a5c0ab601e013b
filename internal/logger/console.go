package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger writes events to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps.
// Color output is enabled automatically when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// NO_COLOR (honoured by the color package) disables colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string, kv ...any) {
	cl.emit("TRACE", message, kv)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string, kv ...any) {
	cl.emit("DEBUG", message, kv)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string, kv ...any) {
	cl.emit("INFO", message, kv)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string, kv ...any) {
	cl.emit("WARN", message, kv)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string, kv ...any) {
	cl.emit("ERROR", message, kv)
}

// emit formats and writes one event if filtering allows it.
func (cl *ConsoleLogger) emit(level string, message string, kv []any) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	fields := formatFields(kv)

	var formatted string
	if cl.colorOutput {
		formatted = fmt.Sprintf("[%s] [%s] %s%s\n", ts, colorLevel(level), message, color.New(color.FgHiBlack).Sprint(fields))
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s%s\n", ts, level, message, fields)
	}

	cl.writer.Write([]byte(formatted))
}

// colorLevel wraps the level name in its ANSI color.
func colorLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}
