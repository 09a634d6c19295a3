// Package debug holds the logger shared by the library packages.
//
// Nothing is logged by default. Setting $KMS_DEBUG to a positive
// integer sends trace-level output to stderr, which is the quickest way
// to find out which EGL pathway or ioctl a driver is unhappy with.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// LevelTrace sits below slog.LevelDebug and is used for per-frame and
// per-pathway diagnostics.
const LevelTrace = slog.LevelDebug - 4

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(nopHandler{}))

	debugLevel, err := strconv.ParseInt(os.Getenv("KMS_DEBUG"), 10, 0)
	if err != nil {
		return
	}
	if debugLevel > 0 {
		logger.Store(slog.New(NewHandler(os.Stderr, LevelTrace, "text")))
	}
}

// Logger returns the package-wide logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// SetLogger replaces the package-wide logger. A nil logger silences
// output again.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	logger.Store(l)
}

// Or returns l, or the package-wide logger if l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}

// ParseLevel understands trace, debug, info, warn and error. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler creates a text or JSON handler writing to w.
func NewHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.Any() == LevelTrace {
				a.Value = slog.StringValue("TRACE")
			}
			return a
		},
	}

	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
