package g3d

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/g3d/backend"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/internal/resstate"
	"github.com/gogpu/g3d/resource"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

func slogger() *slog.Logger { return loggerPtr.Load() }

// SetLogger configures the logger for g3d and its sub-packages. By default
// g3d produces no log output. Pass nil to restore the silent default.
//
// Log levels used by g3d:
//   - [slog.LevelDebug]: pipeline, descriptor and barrier detail
//   - [slog.LevelInfo]: lifecycle events (device opened, resize, pass stack configured)
//   - [slog.LevelWarn]: fallbacks substituted for missing assets, release errors
//
// Example:
//
//	g3d.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	device.SetLogger(l)
	resource.SetLogger(l)
	backend.SetLogger(l)
	resstate.SetLogger(l)
}

// Logger returns the current logger used by g3d. The passes package calls
// this to share the same configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
