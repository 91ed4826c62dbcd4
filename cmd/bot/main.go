package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"

	"conservative_bot/internal/modules/api"
	"conservative_bot/internal/modules/backtest"
	"conservative_bot/internal/modules/config"
	"conservative_bot/internal/modules/emergency"
	"conservative_bot/internal/modules/marketdata"
	"conservative_bot/internal/modules/portfolio"
	"conservative_bot/internal/modules/postgres"
	"conservative_bot/internal/modules/risk"
	"conservative_bot/internal/modules/strategy"
	"conservative_bot/internal/notify"
	"conservative_bot/internal/observability"
	"conservative_bot/internal/runner"
	"conservative_bot/pkg/logger"
	"conservative_bot/pkg/tracing"
)

const serviceName = "conservative_bot"

// initTelemetry runs before any other module logs.
func initTelemetry(lc fx.Lifecycle, cfg *config.Config) error {
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)

	tcfg := tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port}
	if !tcfg.Enabled() {
		return nil
	}
	_, closeTracer, err := tracing.InitTracer(tcfg)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeTracer()
			logger.Sync()
			return nil
		},
	})
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return ctx
			},
		),
		config.Module(),
		fx.Module("telemetry", fx.Invoke(initTelemetry)),
		observability.Module(),
		postgres.Module(),
		marketdata.Module(),
		notify.Module(),
		risk.Module(),
		portfolio.Module(),
		emergency.Module(),
		strategy.Module(),
		backtest.Module(),
		runner.Module(),
		api.Module(),
	)
	if err := app.Start(ctx); err != nil {
		log.Fatal(err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := app.Stop(context.Background()); err != nil {
		logger.Error("stop: %v", err)
	}
}
