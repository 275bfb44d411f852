package engineio

import "log/slog"

// discardLogger returns a logger that drops every record, for tests that
// need to satisfy a *slog.Logger parameter without asserting on output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
