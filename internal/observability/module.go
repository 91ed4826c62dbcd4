package observability

import "go.uber.org/fx"

func Module() fx.Option {
	return fx.Module("observability",
		fx.Provide(func() *Metrics { return NewMetrics(defaultNamespace) }),
	)
}
