package emergency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"

	"conservative_bot/internal/modules/config"
	"conservative_bot/internal/modules/emergency/service"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	portfolioservice "conservative_bot/internal/modules/portfolio/service"
	"conservative_bot/internal/notify"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
)

func newMonitor(cfg *config.Config, source mdservice.Source, book *portfolioservice.Book,
	n notify.Notifier, m *observability.Metrics) *service.Monitor {
	opts := []service.Option{
		service.WithBroker(book),
		service.WithNotifier(n),
		service.WithMetrics(m),
	}
	if len(cfg.Strategy.Symbols) > 0 {
		probe := service.NewSourceProbe(source, cfg.Strategy.Symbols[0], cfg.Strategy.Interval, 10*time.Second)
		opts = append(opts, service.WithProbe(probe))
	}
	monitor := service.NewMonitor(service.Config{
		MaxDailyLossPercent:    cfg.Risk.MaxDailyLossPercent,
		MaxDrawdownPercent:     cfg.Risk.MaxDrawdownPercent,
		MaxConsecutiveLosses:   cfg.Emergency.MaxConsecutiveLosses,
		CriticalBalancePercent: cfg.Emergency.CriticalBalancePercent,
	}, opts...)
	book.SetGuard(monitor)
	return monitor
}

// Watch marks the book to market and checks the triggers against the fresh
// snapshot on every tick.
func Watch(ctx context.Context, monitor *service.Monitor, book *portfolioservice.Book, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	logger.Info("[EMERGENCY] watch loop started, every %s", every)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[EMERGENCY] watch loop stopped")
			return
		case <-t.C:
			if _, err := book.Refresh(ctx); err != nil {
				logger.Warn("[EMERGENCY] refresh: %v", err)
			}
			monitor.CheckAllTriggers(ctx, book.Snapshot())
		}
	}
}

func registerCommands(tg *notify.Telegram, monitor *service.Monitor, book *portfolioservice.Book) {
	if tg == nil {
		return
	}
	tg.Handle("status", func(context.Context, string) string {
		st := monitor.Status()
		if st.IsActive {
			return fmt.Sprintf("🚨 Emergency stop ACTIVE: %s (critical=%t)", st.ActivationReason, st.Critical)
		}
		return fmt.Sprintf("✅ Trading enabled. Consecutive losses: %d", st.ConsecutiveLosses)
	})
	tg.Handle("positions", func(ctx context.Context, _ string) string {
		positions, err := book.GetPositions(ctx)
		if err != nil {
			return fmt.Sprintf("❗️ positions: %v", err)
		}
		if len(positions) == 0 {
			return "📭 No open positions"
		}
		var b strings.Builder
		b.WriteString("📊 Open positions:\n")
		for _, p := range positions {
			fmt.Fprintf(&b, "- %s [%s] size=%.6f @ %.6f sl=%.6f tp=%.6f pnl=%.2f\n",
				p.Symbol, strings.ToUpper(string(p.Direction)), p.Size, p.EntryPrice, p.StopLoss, p.TakeProfit, p.UnrealizedPnL)
		}
		return b.String()
	})
	tg.Handle("stop", func(ctx context.Context, args string) string {
		reason := strings.TrimSpace(args)
		if reason == "" {
			reason = "Manual stop from chat"
		}
		rep := monitor.Activate(ctx, reason)
		return fmt.Sprintf("Emergency stop: %s, closed %d positions", rep.Reason, len(rep.ClosedPositions))
	})
	tg.Handle("reset", func(_ context.Context, args string) string {
		if err := monitor.Reset(strings.TrimSpace(args) == "override"); err != nil {
			return fmt.Sprintf("❗️ %v (send /reset override)", err)
		}
		return "✅ Emergency stop reset"
	})
}

func Module() fx.Option {
	return fx.Module("emergency",
		fx.Provide(newMonitor),
		fx.Invoke(func(
			lc fx.Lifecycle,
			ctx context.Context,
			cfg *config.Config,
			monitor *service.Monitor,
			book *portfolioservice.Book,
			tg *notify.Telegram,
		) {
			registerCommands(tg, monitor, book)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go Watch(ctx, monitor, book, cfg.Emergency.CheckEvery)
					return nil
				},
			})
		}),
	)
}
