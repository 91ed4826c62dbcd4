package risk

import (
	"go.uber.org/fx"

	"conservative_bot/internal/models"
	"conservative_bot/internal/modules/config"
	"conservative_bot/internal/modules/risk/service"
)

func Module() fx.Option {
	return fx.Module("risk",
		fx.Provide(
			func(cfg *config.Config) models.RiskLimits { return cfg.Risk },
			service.NewManager,
		),
	)
}
