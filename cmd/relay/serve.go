package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/server"
)

type serveOptions struct {
	listen string
	dryRun bool
}

// appSpec describes one of the two long-running processes.
type appSpec struct {
	name     string
	listen   func(cfg *config.Config) *string
	validate func(cfg *config.Config) error
	build    func(ctx context.Context, cfg *config.Config) (*server.App, error)
}

var (
	gatewaySpec = appSpec{
		name:     "serve",
		listen:   func(cfg *config.Config) *string { return &cfg.Gateway.Server.ListenAddress },
		validate: config.ValidateGateway,
		build:    server.NewGateway,
	}
	backendSpec = appSpec{
		name:     "backend",
		listen:   func(cfg *config.Config) *string { return &cfg.Backend.Server.ListenAddress },
		validate: config.ValidateBackend,
		build:    server.NewBackend,
	}
)

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the public gateway",
		Long: `Start the public gateway.

The gateway listens on gateway.server.listen_address and forwards admitted
chat requests to gateway.backend_url over a signed hop.

Examples:
  # Start with a custom config
  relay serve --config /etc/relay/relay.yaml

  # Override the listen address
  relay serve --listen 0.0.0.0:8080

  # Validate config without starting
  relay serve --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, root, opts, gatewaySpec)
		},
	}
	addServeFlags(cmd, opts)
	return cmd
}

func newBackendCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Start the private backend",
		Long: `Start the private backend.

The backend listens on backend.server.listen_address, admits only signed and
fresh hop requests, and relays the upstream model stream.

Examples:
  relay backend --config /etc/relay/relay.yaml
  relay backend --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, root, opts, backendSpec)
		},
	}
	addServeFlags(cmd, opts)
	return cmd
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", "override listen address")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "validate config without starting")
}

func runApp(cmd *cobra.Command, root *rootOptions, opts *serveOptions, spec appSpec) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if opts.listen != "" {
		*spec.listen(cfg) = opts.listen
	}
	if err := spec.validate(cfg); err != nil {
		return cli.NewConfigError(root.configPath, err)
	}
	if opts.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	app, err := spec.build(ctx, cfg)
	if err != nil {
		return cli.NewCommandError(spec.name, err)
	}
	slog.Info("relay starting", "service", app.Name, "version", Version, "config", root.configPath)

	if err := app.Run(ctx); err != nil {
		return cli.NewCommandError(spec.name, err)
	}
	slog.Info("relay stopped", "service", app.Name)
	return nil
}
