package portfolio

import (
	"go.uber.org/fx"

	"conservative_bot/internal/modules/config"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	"conservative_bot/internal/modules/portfolio/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/internal/notify"
	"conservative_bot/internal/observability"
)

func newBook(cfg *config.Config, risk *riskservice.Manager, source mdservice.Source,
	n notify.Notifier, m *observability.Metrics) *service.Book {
	return service.NewBook(service.Config{
		InitialBalance: cfg.Portfolio.InitialBalance,
		Interval:       cfg.Strategy.Interval,
		// same window the scanner reads, so marks agree with signal prices
		PriceBars: cfg.Strategy.BarCount,
	}, risk, source, service.WithNotifier(n), service.WithMetrics(m))
}

func Module() fx.Option {
	return fx.Module("portfolio",
		fx.Provide(newBook),
	)
}
