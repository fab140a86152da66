// Package logging provides a minimal logging interface and adapters for agentsquad.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the session manager, dispatcher and adapters use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SquadLogger with component tagging and turn/dispatch/reflection records
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	squad := agentsquad.New(rt, func(o *agentsquad.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
