// Package logging provides structured logging for Gray Logic Link.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all entries
//   - Per-component child loggers via Component
//
// Configuration lives under "logging" in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("correlator").Info("command resolved", "correlation_id", id)
//
// Never log broker passwords or tokens.
package logging
