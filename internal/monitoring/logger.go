package monitoring

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger returns a tint-formatted structured logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    true,
	}))
}

// levelPrefixes map a leading "warning: " or "error: " in a Logf message
// to a slog level.
var levelPrefixes = []struct {
	prefix string
	level  slog.Level
}{
	{"warning: ", slog.LevelWarn},
	{"error: ", slog.LevelError},
}

// Use routes Logf through l at info level, or at the level named by the
// message prefix, which is stripped.
func Use(l *slog.Logger) {
	SetLogger(func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		level := slog.LevelInfo
		for _, p := range levelPrefixes {
			if rest, ok := strings.CutPrefix(msg, p.prefix); ok {
				level, msg = p.level, rest
				break
			}
		}
		l.Log(context.Background(), level, msg)
	})
}
