package backtest

import (
	"go.uber.org/fx"

	"conservative_bot/internal/modules/backtest/service"
	"conservative_bot/internal/modules/config"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	strategyservice "conservative_bot/internal/modules/strategy/service"
	"conservative_bot/internal/observability"
)

// EngineConfig maps the backtest section onto the engine settings.
func EngineConfig(cfg *config.Config) service.Config {
	ec := service.DefaultConfig()
	ec.InitialBalance = cfg.Backtest.InitialBalance
	ec.StopLossPct = cfg.Backtest.StopLossPct
	ec.TakeProfitPct = cfg.Backtest.TakeProfitPct
	ec.PositionPct = cfg.Backtest.PositionPct
	ec.Leverage = cfg.Backtest.Leverage
	ec.MaxPositions = cfg.Backtest.MaxPositions
	ec.MinConfidence = cfg.Backtest.MinConfidence
	ec.Interval = cfg.Backtest.Interval
	return ec
}

func newRunner(cfg *config.Config, source mdservice.Source, risk *riskservice.Manager,
	gen *strategyservice.Generator, m *observability.Metrics) *service.Runner {
	return service.NewRunner(EngineConfig(cfg), cfg.Backtest.Rule, source, risk, gen, service.WithMetrics(m))
}

func Module() fx.Option {
	return fx.Module("backtest",
		fx.Provide(newRunner),
	)
}
