package runner

import (
	"context"

	"go.uber.org/fx"

	"conservative_bot/internal/models"
	"conservative_bot/internal/modules/config"
	emergencyservice "conservative_bot/internal/modules/emergency/service"
	portfolioservice "conservative_bot/internal/modules/portfolio/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/internal/notify"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
)

func newRouter(cfg *config.Config, risk *riskservice.Manager, book *portfolioservice.Book,
	monitor *emergencyservice.Monitor, n notify.Notifier, m *observability.Metrics) *Router {
	return NewRouter(Config{
		ConfirmEntries: cfg.Runner.ConfirmEntries,
		ConfirmTimeout: cfg.Runner.ConfirmTimeout,
	}, risk, book, monitor, n, m)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			newRouter, // *Router
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			r *Router,
			sigs <-chan models.Signal,
			ctx context.Context,
		) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go func() {
						logger.Info("[ROUTER] signal loop started")
						for {
							select {
							case <-ctx.Done():
								logger.Info("[ROUTER] signal loop stopped")
								return
							case sig, ok := <-sigs:
								if !ok {
									return
								}
								_, _ = r.OnSignal(ctx, sig)
							}
						}
					}()
					return nil
				},
			})
		}),
	)
}
