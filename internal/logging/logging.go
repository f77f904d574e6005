// Package logging holds the process-wide zerolog logger and hands out
// component loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level  string
	Format string // "console" (default) or "json"
	Writer io.Writer
}

var (
	mu   sync.Mutex
	root atomic.Pointer[zerolog.Logger]
)

// Init builds the root logger. Later calls replace it.
func Init(opt Options) *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if !strings.EqualFold(strings.TrimSpace(opt.Format), "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}

	l := zerolog.New(w).Level(ParseLevel(opt.Level)).With().Timestamp().Logger()
	root.Store(&l)
	return &l
}

// Get returns the root logger, initializing it with defaults on first use.
func Get() *zerolog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	return Init(Options{Level: "info"})
}

// Named returns a child logger tagged with a component field.
func Named(component string) zerolog.Logger {
	if component == "" {
		return *Get()
	}
	return Get().With().Str("component", component).Logger()
}

// ParseLevel maps a level name to a zerolog level; unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Truncate shortens s to n runes for log lines.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
