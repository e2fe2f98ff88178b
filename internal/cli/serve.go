package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/secure-auth-core/internal/di"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lp, err := observability.InitLogs(ctx, cfg)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg, os.Stdout, lp)
			runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
			if err != nil {
				if lp != nil {
					_ = lp.Shutdown(context.Background())
				}
				return err
			}
			a, cleanup, err := di.InitializeApp(ctx, cfg, logger, runtime)
			if err != nil {
				_ = runtime.Shutdown(context.Background())
				return err
			}
			a.OnClose(func() error {
				cleanup()
				return nil
			})
			return a.Run(ctx)
		},
	}
}
