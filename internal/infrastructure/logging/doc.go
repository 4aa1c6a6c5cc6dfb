// Package logging provides structured logging for stomplink.
//
// This package wraps Go's standard log/slog package so the STOMP link,
// the MQTT side and the journal all log the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Per-component child loggers
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
//	logger := logging.New(cfg.Logging, version)
//	link.SetLogger(logger.Component("stomp"))
//
// # Security
//
// Never log passcodes or tokens. Raw frame logging (stomp.debug) prints
// CONNECT frames, including the passcode header; enable it only in development.
package logging
