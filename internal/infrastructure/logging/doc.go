// Package logging provides structured logging for the telemetry binaries.
//
// This package wraps Go's standard log/slog package so the publisher and the
// ingestor emit the same shape of log entry.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "ingestor", "1.0.0")
//	logger.Info("subscribed", "topic", topic)
//
// Never log broker passwords or the InfluxDB token.
package logging
