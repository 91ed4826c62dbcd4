package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"conservative_bot/internal/modules/api/service"
	backtestservice "conservative_bot/internal/modules/backtest/service"
	"conservative_bot/internal/modules/config"
	emergencyservice "conservative_bot/internal/modules/emergency/service"
	portfolioservice "conservative_bot/internal/modules/portfolio/service"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
)

type Config struct {
	Addr string // e.g. ":8080"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)}
}

func NewMux(h *Handlers, metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /livez", h.livez)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/emergency/status", h.emergencyStatus)
	mux.HandleFunc("POST /api/emergency/stop", h.emergencyStop)
	mux.HandleFunc("POST /api/emergency/reset", h.emergencyReset)
	mux.HandleFunc("GET /api/portfolio", h.portfolioSnapshot)
	mux.HandleFunc("POST /api/backtest", h.runBacktest)
	mux.HandleFunc("GET /api/backtest/presets", h.backtestPresets)

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, state *service.State) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("http server: %v", err)
				}
			}()
			state.SetReady(true)
			logger.Info("http listening on %s", cfg.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return srv.Shutdown(ctx)
		},
	})
}

func newHandlers(state *service.State, monitor *emergencyservice.Monitor,
	runner *backtestservice.Runner, book *portfolioservice.Book) *Handlers {
	return NewHandlers(state, monitor, runner, book)
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(
			service.NewState,
			NewConfig,
			newHandlers,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
