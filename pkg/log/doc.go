// Package log provides brrr's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves our existing
// formatter/output pipeline, so adopting the slog ecosystem never changes
// output shape or behavior across the engine and worker.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("worker"), log.Str("root_id", rootID))
//	l.Info("dequeued call", log.Str("task", taskName))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting
// JSON or text formatting and console, file, or null outputs.
//
// # Interop
//
// To route the standard library's log package (used by e.g. Pebble) through
// this facade, call RedirectStdLog.
package log
