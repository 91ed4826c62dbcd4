package notify

import (
	"context"

	"go.uber.org/fx"

	"conservative_bot/internal/modules/config"
	"conservative_bot/pkg/logger"
)

// New returns the Telegram notifier when a token and chat are configured,
// otherwise the log-backed Stdout one. The Telegram value is nil in that case.
func New(lc fx.Lifecycle, cfg *config.Config) (Notifier, *Telegram, error) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Info("notify: telegram not configured, logging alerts")
		return NewStdout(), nil, nil
	}
	tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return tg.Start(ctx) },
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return tg, tg, nil
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(New),
	)
}
