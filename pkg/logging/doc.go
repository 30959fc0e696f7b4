// Package logging configures structured logging for relayd.
//
// It wraps log/slog so every component logs the same way. Components accept a
// *slog.Logger in their constructor or via an option and fall back to Nop()
// when none is given.
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//	logger.Info("relay started", "coap", ":5683")
//
// Four levels are supported (debug, info, warn, error) and two formats: text
// for terminals, json for log aggregation. When Config.File is set, records are
// also appended to that file in JSON.
package logging
