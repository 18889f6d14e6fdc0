// Package logging provides structured logging for the IPX800 bridge.
//
// It wraps log/slog so every component writes records with the same
// handler, level and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/ipx800-bridge/bridge.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("device polled", "channels", 8)
//	logger.Error("command failed", "channel", 3, "error", err)
//
// Never log the device password, the webhook secret or JWT secrets.
package logging
