// Package logging provides the structured logger shared by the authentication
// engine, the directory client and the HTTP host.
package logging

import (
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Logger is the logging contract used across ldapfence.
//
// Fields are passed as a map so call sites read the same regardless of the
// backend. Every field map is sanitised before it reaches the output.
type Logger interface {
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)

	// Named returns a sub-logger for the given subsystem.
	Named(name string) Logger
}

// Options configures a new Logger.
type Options struct {
	Name   string
	Level  string // TRACE, DEBUG, INFO, WARN or ERROR
	Format string // text or json
	Output io.Writer
}

// HCLogger implements Logger on top of go-hclog.
type HCLogger struct {
	l hclog.Logger
}

var _ Logger = (*HCLogger)(nil)

// New creates an hclog-backed Logger.
func New(opts Options) *HCLogger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return &HCLogger{
		l: hclog.New(&hclog.LoggerOptions{
			Name:       opts.Name,
			Level:      level,
			Output:     output,
			JSONFormat: strings.EqualFold(opts.Format, "json"),
			TimeFormat: time.RFC3339,
		}),
	}
}

// NewNop returns a Logger that discards everything.
func NewNop() *HCLogger {
	return &HCLogger{l: hclog.NewNullLogger()}
}

func (h *HCLogger) Trace(msg string, fields map[string]any) {
	h.l.Trace(msg, args(fields)...)
}

func (h *HCLogger) Debug(msg string, fields map[string]any) {
	h.l.Debug(msg, args(fields)...)
}

func (h *HCLogger) Info(msg string, fields map[string]any) {
	h.l.Info(msg, args(fields)...)
}

func (h *HCLogger) Warn(msg string, fields map[string]any) {
	h.l.Warn(msg, args(fields)...)
}

func (h *HCLogger) Error(msg string, fields map[string]any) {
	h.l.Error(msg, args(fields)...)
}

func (h *HCLogger) Named(name string) Logger {
	return &HCLogger{l: h.l.Named(name)}
}

// args flattens a sanitised field map into hclog key/value pairs with a
// stable key order.
func args(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	sanitized := SanitizeFields(fields)
	keys := slices.Sorted(maps.Keys(sanitized))

	out := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, sanitized[k])
	}
	return out
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":      true,
		"passwd":        true,
		"secret":        true,
		"token":         true,
		"private_key":   true,
		"credential":    true,
		"credentials":   true,
		"bind_password": true,
		"authorization": true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"basic ",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// LogPerformance logs an operation duration, escalating the level for slow operations.
func LogPerformance(logger Logger, operation string, duration time.Duration, fields map[string]any) {
	entry := make(map[string]any, len(fields)+2)
	maps.Copy(entry, fields)
	entry["operation"] = operation
	entry["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		logger.Warn("Slow operation detected", entry)
	case duration > 1*time.Second:
		logger.Info("Operation performance", entry)
	default:
		logger.Debug("Operation performance", entry)
	}
}
