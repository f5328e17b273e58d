package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-tenantauth/internal/app"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the HTTP server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			logger := newLogger(cfg)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := app.New(cfg, logger)
			steps := []func(context.Context, *app.App) error{
				app.WithTracing,
				app.WithPersistence,
				app.WithMetrics,
				app.WithSessions,
				app.WithHTTPServer,
			}
			for _, step := range steps {
				if err := step(ctx, a); err != nil {
					_ = a.Close(context.Background())
					return err
				}
			}

			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address, overrides server.address")

	return cmd
}
