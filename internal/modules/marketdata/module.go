package marketdata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"conservative_bot/internal/modules/config"
	"conservative_bot/internal/modules/marketdata/service"
	"conservative_bot/pkg/db"
	"conservative_bot/pkg/logger"
)

// NewSource picks the bar source named in the config. The postgres source
// needs a pool; the synthetic one follows the wall clock.
func NewSource(ctx context.Context, cfg *config.Config, tm *db.PgTxManager) (service.Source, error) {
	switch cfg.MarketData.Source {
	case config.SourcePostgres:
		if tm == nil {
			return nil, fmt.Errorf("market data source %q needs db_dsn", cfg.MarketData.Source)
		}
		src := service.NewPgSource(tm)
		if err := src.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info("market data: postgres")
		return src, nil
	case config.SourceSynthetic, "":
		logger.Info("market data: synthetic seed=%d", cfg.MarketData.Seed)
		return service.NewSynthetic(cfg.MarketData.Seed, time.Time{}), nil
	default:
		return nil, fmt.Errorf("unknown market data source %q", cfg.MarketData.Source)
	}
}

func Module() fx.Option {
	return fx.Module("marketdata",
		fx.Provide(NewSource),
	)
}
