package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/deckhand/internal/config"
	"github.com/nholik/deckhand/internal/coordinator"
	"github.com/nholik/deckhand/internal/server"
	"github.com/spf13/cobra"
)

func newWatchCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll compose sources and reconcile every environment until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			envs := a.envs
			if opts.Environment != "" {
				env, err := config.FindEnvironment(a.envs, opts.Environment)
				if err != nil {
					return err
				}
				envs = []config.EnvironmentSpec{env}
			}

			if a.checker != nil {
				pingCtx, cancel := context.WithTimeout(ctx, a.cfg.ComposeTimeout)
				if err := a.checker.Ping(pingCtx); err != nil {
					a.logger.Warn().Err(err).Msg("docker daemon unreachable, image checks will fail")
				}
				cancel()
			}

			server.Start(ctx, a.logger, server.Options{
				PollInterval: a.cfg.PollInterval,
				Tracker:      a.tracker,
				Metrics:      a.metrics,
				HealthPort:   a.cfg.HealthPort,
				MetricsPort:  a.cfg.MetricsPort,
			})

			coord := coordinator.New(a.logger, a.cfg, envs, coordinator.Deps{
				Services:   a.newService,
				Executor:   a.tx,
				StateStore: a.store,
				StateLock:  a.stateMu,
				Notifier:   a.notifier,
				Metrics:    a.metrics,
				Tracker:    a.tracker,
			})
			return coord.Run(ctx)
		},
	}
}
