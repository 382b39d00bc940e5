// Command rideboard runs the carpool board.
//
// Two roles ship in one binary:
//
//	rideboard server   HTTP API (events, cars, riders, login)
//	rideboard worker   notification consumer (Redis queue → pings)
//
// Both read their settings from the environment (and .env, see
// internal/config). The --log-level and --log-format flags override
// LOG_LEVEL and LOG_FORMAT.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/rideboard/internal/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	LogLevel  string
	LogFormat string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rideboard",
		Short:         "Carpool board for events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug|info|warn|error (default $LOG_LEVEL or info)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "text|json (default $LOG_FORMAT or text)")

	cmd.AddCommand(newServerCommand(opts))
	cmd.AddCommand(newWorkerCommand(opts))
	return cmd
}

// setup loads config and builds the logger every subcommand starts from.
func setup(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}

	logger, err := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger builds the process logger. Text is for terminals, JSON for
// log shippers.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", format)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
