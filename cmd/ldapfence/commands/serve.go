package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapfence/internal/config"
	"github.com/isometry/ldapfence/internal/server"
)

func newServeCmd(configFile func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authenticating proxy",
		Long: `Run the HTTP host. Requests are authenticated with Basic credentials
and forwarded to server.upstream.

Examples:
  # Start with a config file
  ldapfence serve --config /etc/ldapfence/ldapfence.yaml

  # Override settings from the environment
  LDAPFENCE_LOGGING_LEVEL=DEBUG ldapfence serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile())
			if err != nil {
				return err
			}

			logger := newLogger(cfg, os.Stderr)
			logger.Info("Configuration loaded", map[string]any{
				"version": Version,
				"enabled": cfg.Enabled,
				"ldap":    cfg.LDAP.Enabled,
			})

			e, err := newEngine(cfg, logger, cfg.Enabled)
			if err != nil {
				return err
			}
			defer e.Close()

			opts := server.Options{
				Config:  cfg,
				Logger:  logger.Named("http"),
				Metrics: e.metrics,
			}
			if e.gateway != nil {
				opts.Gateway = e.gateway
			}
			if e.registry != nil {
				opts.Gatherer = e.registry
			}

			srv, err := server.New(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}
}

