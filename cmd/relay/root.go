package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/logging"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay - streaming chat gateway with a signed backend hop",
		Long: `Relay fronts a streaming chat model with two processes.

The gateway is the public edge: it enforces per-client burst and sustained
rate limits, fails closed on content moderation, strips internal fragments
from history and output, and streams canonical frames to the client.

The backend is private: it accepts only HMAC-signed, non-replayed requests
from the gateway and relays the upstream model stream.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "relay.yaml", "config file path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newBackendCmd(opts),
		newSignCmd(opts),
		newAuditCmd(opts),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return cli.ExitCode(err)
}

// load initializes the process configuration, applies flag overrides and
// installs the process logger.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.Initialize(o.configPath); err != nil {
		return nil, cli.NewConfigError(o.configPath, err)
	}
	cfg := config.GetConfig()

	if o.logLevel != "" {
		cfg.Telemetry.Logging.Level = o.logLevel
	}

	logger, err := newLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, cli.NewConfigError(o.configPath, err)
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	patterns := make([]logging.Pattern, 0, len(cfg.RedactPatterns))
	for _, p := range cfg.RedactPatterns {
		patterns = append(patterns, logging.Pattern{
			Name:        p.Name,
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
		})
	}
	return logging.New(logging.Config{
		Level:          cfg.Level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		RedactSecrets:  cfg.RedactSecrets,
		RedactPatterns: patterns,
		Writer:         os.Stderr,
	})
}
