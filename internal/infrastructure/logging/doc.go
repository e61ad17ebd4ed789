// Package logging provides structured logging for TVBridge Core.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, destination) and service-wide default fields.
// Components receive a *Logger (or a narrow logging interface they
// define themselves) at construction time; there are no package-level
// globals.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("device connected", "device_id", id)
//
//	sessionLog := log.With("component", "session", "device_id", id)
package logging
