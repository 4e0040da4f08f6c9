// Package logging provides structured logging for formrunner.
//
// The package wraps log/slog to emit JSON lines. Standard output belongs to
// the command dispatcher's NDJSON event stream, so a [Logger] writes either
// to stderr or to formrunner.log inside a configured directory.
//
// # Context Propagation
//
// Child loggers carry persistent attributes:
//
//	log := logger.WithTask(taskID).WithTarget(targetID)
//	log.WithSession(2).WithPhase("submit").Info("sub-batch saved", "items", 10)
//
// # Rotation
//
// When writing to a file, [RotatingWriter] rotates it once it grows past
// [RotationConfig.MaxSizeMB], keeping MaxBackups older copies (optionally
// gzip-compressed).
//
// All types in this package are safe for concurrent use.
package logging
