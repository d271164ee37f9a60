// Package logging provides structured logging for modkit binaries.
//
// It wraps log/slog so the module process and the development host emit
// records with the same shape:
//
//   - JSON output by default, text for local development
//   - service and version fields on every record
//   - level filtering (debug, info, warn, error)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "modkit-counter", version)
//	logger.Component("instance").Info("initialised", "upgrade_index", 2)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
