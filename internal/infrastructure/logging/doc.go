// Package logging provides structured logging for the ATCS core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//   - Optional live tee of records to a Broadcaster (the /ws/logs stream)
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Attributes keyed token, access_token, refresh_token, session_token,
// authorization, secret, jwt_secret or ticket are written as [REDACTED] by
// the handler. Authentication failures are logged with the username and
// client IP only. The generated first-boot admin password is the one
// credential that is logged, once, at Warn.
package logging
