package mingle

import "log"

// Logger receives diagnostic output from the SDK: dropped frames, reconnect
// scheduling, refresh failures. Plug in your own with WithLogger, or silence
// the SDK entirely with NopLogger.
type Logger func(format string, args ...any)

// NopLogger discards all SDK diagnostics.
func NopLogger(string, ...any) {}

func defaultLogger(format string, args ...any) {
	log.Printf("[mingle] "+format, args...)
}
