// Package logging provides structured logging for the tiles gateway.
//
// It wraps the standard log/slog package so every component emits records
// with the same default fields (service, version) and honours the level and
// format chosen in configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("session").Info("connected", "tile_id", "Tile_01")
//
// Never log broker passwords, InfluxDB tokens or JWT secrets.
package logging
