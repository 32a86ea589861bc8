package texmeta

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/texmeta/backend"
	"github.com/gogpu/texmeta/dccstats"
	"github.com/gogpu/texmeta/dispatch"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// loggerSetters receive every logger passed to SetLogger. Backends that
// live outside the import graph of this package add themselves with
// RegisterLoggerSetter.
var loggerSetters atomic.Pointer[[]func(*slog.Logger)]

// SetLogger configures the logger for texmeta and its sub-packages.
// By default, texmeta produces no log output. Pass nil to restore silent
// logging. SetLogger is safe for concurrent use.
//
// Log levels used by texmeta:
//   - [slog.LevelDebug]: path selection (clear method, flush bits, heuristic transitions)
//   - [slog.LevelInfo]: lifecycle events (screen created, backend opened)
//   - [slog.LevelWarn]: non-fatal issues (kernel unavailable, fallback taken)
//
// Example:
//
//	texmeta.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	dispatch.SetLogger(l)
	dccstats.SetLogger(l)
	backend.SetLogger(l)
	if fns := loggerSetters.Load(); fns != nil {
		for _, fn := range *fns {
			fn(l)
		}
	}
}

// RegisterLoggerSetter adds fn to the loggers SetLogger updates and calls
// it with the current logger.
//
//	texmeta.RegisterLoggerSetter(halgpu.SetLogger)
func RegisterLoggerSetter(fn func(*slog.Logger)) {
	for {
		old := loggerSetters.Load()
		var next []func(*slog.Logger)
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, fn)
		if loggerSetters.CompareAndSwap(old, &next) {
			break
		}
	}
	fn(Logger())
}

// Logger returns the current logger used by texmeta.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }
