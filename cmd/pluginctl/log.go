package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	flagLogLevel  = "loglevel"
	flagLogFormat = "logformat"
)

func registerLoggingFlags(flags *pflag.FlagSet) {
	flags.String(flagLogLevel, "warn", "set the log level (debug, info, warn, error)")
	flags.StringP(flagLogFormat, "f", "text", "set the log format (text, json)")
}

// baseLogger builds the logger selected by the logging flags. Logs go to the
// command's error stream so stdout stays machine readable.
func baseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := loggerLevel(cmd)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format := cmd.Flag(flagLogFormat).Value.String(); format {
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	case "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

func loggerLevel(cmd *cobra.Command) (slog.Level, error) {
	switch lvl := strings.ToLower(cmd.Flag(flagLogLevel).Value.String()); lvl {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level: %s", lvl)
	}
}
