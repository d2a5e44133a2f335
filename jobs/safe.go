package jobs

import (
	"log/slog"
	"runtime/debug"
)

// GoSafe runs fn in a goroutine and recovers from panics. The panic and
// stack trace are logged instead of crashing the process.
func GoSafe(logger *slog.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger == nil {
					logger = slog.Default()
				}
				logger.Error("panic recovered in background task",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()

		fn()
	}()
}
