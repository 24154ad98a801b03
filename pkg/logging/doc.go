// Package logging provides subsystem-tagged structured logging built on
// log/slog, plus an Audit helper for security-sensitive operations that
// external log aggregators can route to a dedicated sink.
package logging
