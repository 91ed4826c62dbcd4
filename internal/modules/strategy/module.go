package strategy

import (
	"context"
	"time"

	"go.uber.org/fx"

	"conservative_bot/internal/models"
	"conservative_bot/internal/modules/config"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/internal/modules/strategy/service"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
)

func newSignalsChan() chan models.Signal {
	return make(chan models.Signal, 64)
}
func asSendOnlySignals(ch chan models.Signal) chan<- models.Signal { return ch }
func asRecvOnlySignals(ch chan models.Signal) <-chan models.Signal { return ch }

func newGenerator(cfg *config.Config, risk *riskservice.Manager) *service.Generator {
	return service.NewGenerator(risk, service.GeneratorConfig{
		MinConfidence: cfg.Strategy.MinConfidence,
		MinBars:       cfg.Strategy.MinBars,
	})
}

func newScanner(cfg *config.Config, gen *service.Generator, source mdservice.Source) *service.Scanner {
	return service.NewScanner(gen, source, service.ScannerConfig{
		Interval:   cfg.Strategy.Interval,
		BarCount:   cfg.Strategy.BarCount,
		MaxSignals: cfg.Strategy.MaxSignalsPerScan,
	})
}

// ScanLoop scans the watchlist every tick and publishes the signals. A full
// channel drops the signal rather than stall the loop.
func ScanLoop(ctx context.Context, sc *service.Scanner, symbols []string, every time.Duration,
	out chan<- models.Signal, m *observability.Metrics) {
	t := time.NewTicker(every)
	defer t.Stop()
	logger.Info("[STRAT] scan loop started: %d symbols every %s", len(symbols), every)
	for {
		scanOnce(ctx, sc, symbols, out, m)
		select {
		case <-ctx.Done():
			logger.Info("[STRAT] scan loop stopped")
			return
		case <-t.C:
		}
	}
}

func scanOnce(ctx context.Context, sc *service.Scanner, symbols []string, out chan<- models.Signal, m *observability.Metrics) {
	sigs, err := sc.Scan(ctx, symbols)
	m.Scanned()
	if err != nil {
		logger.Warn("[STRAT] scan: %v", err)
	}
	for _, sig := range sigs {
		m.SignalEmitted(string(sig.Direction))
		select {
		case out <- sig:
		default:
			logger.Warn("[STRAT] signal queue full, dropping %s %s", sig.Symbol, sig.Direction)
		}
	}
}

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			newSignalsChan,    // chan models.Signal
			asSendOnlySignals, // chan<- models.Signal
			asRecvOnlySignals, // <-chan models.Signal
			newGenerator,
			newScanner,
		),

		fx.Invoke(func(
			lc fx.Lifecycle,
			ctx context.Context,
			cfg *config.Config,
			sc *service.Scanner,
			out chan<- models.Signal,
			m *observability.Metrics,
		) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go ScanLoop(ctx, sc, cfg.Strategy.Symbols, cfg.Strategy.ScanEvery, out, m)
					return nil
				},
			})
		}),
	)
}
