// Package logger provides levelled, structured logging for the agent.
//
// Every event is a message plus key/value context:
//
//	log.LogWarn("move failed", "rule", "channel-a", "path", src, "kind", "source_vanished")
//
// renders as
//
//	[14:02:11] [WARN] move failed rule=channel-a path=/drop/a/x.m3u kind=source_vanished
//
// Implementations are safe for concurrent use.
package logger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// Logger receives structured events from the pipeline.
// kv is a flat list of alternating keys and values.
type Logger interface {
	LogTrace(message string, kv ...any)
	LogDebug(message string, kv ...any)
	LogInfo(message string, kv ...any)
	LogWarn(message string, kv ...any)
	LogError(message string, kv ...any)
}

// sink is implemented by the concrete loggers so With and MultiLogger can
// attach context without reformatting.
type sink interface {
	emit(level string, message string, kv []any)
}

// ValidLevels lists the accepted log level names in increasing severity.
var ValidLevels = []string{"trace", "debug", "info", "warn", "error"}

// IsValidLevel reports whether level names a known log level.
func IsValidLevel(level string) bool {
	for _, l := range ValidLevels {
		if l == level {
			return true
		}
	}
	return false
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if IsValidLevel(normalized) {
		return normalized
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// timestamp returns the current time formatted as HH:MM:SS.
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatFields renders kv as " key=value key=value". A trailing key without
// a value is rendered with value "!MISSING".
func formatFields(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var value any = "!MISSING"
		if i+1 < len(kv) {
			value = kv[i+1]
		}
		sb.WriteByte(' ')
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(formatValue(value))
	}
	return sb.String()
}

// formatValue quotes values that contain spaces or quotes.
func formatValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case error:
		s = val.Error()
	case time.Duration:
		s = val.String()
	case time.Time:
		s = val.Format(time.RFC3339)
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// Fields converts a map into a sorted kv slice, for callers that collect
// context in maps.
func Fields(context map[string]any) []any {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, context[k])
	}
	return kv
}

// contextLogger prepends fixed context to every event.
type contextLogger struct {
	base sink
	ctx  []any
}

// With returns a Logger that adds kv to every event written through it.
// Loggers not created by this package get no extra context.
func With(l Logger, kv ...any) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	s, ok := l.(sink)
	if !ok {
		return l
	}
	merged := make([]any, 0, len(kv))
	merged = append(merged, kv...)
	return &contextLogger{base: s, ctx: merged}
}

func (c *contextLogger) emit(level string, message string, kv []any) {
	all := make([]any, 0, len(c.ctx)+len(kv))
	all = append(all, c.ctx...)
	all = append(all, kv...)
	c.base.emit(level, message, all)
}

func (c *contextLogger) LogTrace(message string, kv ...any) { c.emit("TRACE", message, kv) }
func (c *contextLogger) LogDebug(message string, kv ...any) { c.emit("DEBUG", message, kv) }
func (c *contextLogger) LogInfo(message string, kv ...any)  { c.emit("INFO", message, kv) }
func (c *contextLogger) LogWarn(message string, kv ...any)  { c.emit("WARN", message, kv) }
func (c *contextLogger) LogError(message string, kv ...any) { c.emit("ERROR", message, kv) }

// MultiLogger fans every event out to several loggers.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil entries are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	ml := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			ml.loggers = append(ml.loggers, l)
		}
	}
	return ml
}

func (ml *MultiLogger) emit(level string, message string, kv []any) {
	for _, l := range ml.loggers {
		if s, ok := l.(sink); ok {
			s.emit(level, message, kv)
			continue
		}
		switch level {
		case "TRACE":
			l.LogTrace(message, kv...)
		case "DEBUG":
			l.LogDebug(message, kv...)
		case "WARN":
			l.LogWarn(message, kv...)
		case "ERROR":
			l.LogError(message, kv...)
		default:
			l.LogInfo(message, kv...)
		}
	}
}

// LogTrace forwards to all loggers
func (ml *MultiLogger) LogTrace(message string, kv ...any) { ml.emit("TRACE", message, kv) }

// LogDebug forwards to all loggers
func (ml *MultiLogger) LogDebug(message string, kv ...any) { ml.emit("DEBUG", message, kv) }

// LogInfo forwards to all loggers
func (ml *MultiLogger) LogInfo(message string, kv ...any) { ml.emit("INFO", message, kv) }

// LogWarn forwards to all loggers
func (ml *MultiLogger) LogWarn(message string, kv ...any) { ml.emit("WARN", message, kv) }

// LogError forwards to all loggers
func (ml *MultiLogger) LogError(message string, kv ...any) { ml.emit("ERROR", message, kv) }

// NoOpLogger is a Logger implementation that discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) emit(string, string, []any) {}

// LogTrace is a no-op implementation.
func (n *NoOpLogger) LogTrace(string, ...any) {}

// LogDebug is a no-op implementation.
func (n *NoOpLogger) LogDebug(string, ...any) {}

// LogInfo is a no-op implementation.
func (n *NoOpLogger) LogInfo(string, ...any) {}

// LogWarn is a no-op implementation.
func (n *NoOpLogger) LogWarn(string, ...any) {}

// LogError is a no-op implementation.
func (n *NoOpLogger) LogError(string, ...any) {}
