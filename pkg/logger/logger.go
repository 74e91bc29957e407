package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New returns the process-wide structured logger. Local and dev
// environments get human-readable text at debug level; everything else
// gets JSON at info so log shippers stay happy.
func New(appEnv string) *slog.Logger {
	dev := appEnv == "local" || appEnv == "dev"

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// ShutdownFlush drains buffered log output before exit. The slog
// handlers used here write synchronously, so today this only exists to
// give main a single hook should a buffered sink ever be added.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
