// Package log holds the server loggers. Subsystems get their own logger from
// Component, the bootstrap code logs through the package level functions.
package log

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gammadia/tca/server/flags"
	"github.com/spf13/viper"
)

// Base is a bare logger without attributes
var Base *slog.Logger

// logger is the bootstrap logger
var logger *slog.Logger

// Init builds the loggers from the log-* flags.
func Init() error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(viper.GetString(flags.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	options := slog.HandlerOptions{
		AddSource: viper.GetBool(flags.LogSource),
		Level:     logLevel,
	}

	switch format := viper.GetString(flags.LogFormat); format {
	case "json":
		Base = slog.New(slog.NewJSONHandler(os.Stdout, &options))
	case "text":
		Base = slog.New(slog.NewTextHandler(os.Stdout, &options))
	default:
		return fmt.Errorf("unknown log format '%s'", format)
	}

	logger = Component("server")
	return nil
}

// Component returns a logger for one subsystem ("cloudprovider", "jobqueue",
// "talos", ...).
func Component(name string) *slog.Logger {
	return Base.With("component", name)
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}
