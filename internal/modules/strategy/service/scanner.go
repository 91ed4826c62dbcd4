package service

import (
	"context"
	"fmt"

	"conservative_bot/internal/models"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	"conservative_bot/pkg/logger"
	"conservative_bot/pkg/tracing"
)

const DefaultMaxSignalsPerScan = 2

type ScannerConfig struct {
	Interval   string
	BarCount   int
	MaxSignals int
}

// Scanner runs the generator across a watchlist.
type Scanner struct {
	generate func(symbol string, bars []models.PriceBar) (models.Signal, bool)
	source   mdservice.Source
	cfg      ScannerConfig
}

func NewScanner(gen *Generator, source mdservice.Source, cfg ScannerConfig) *Scanner {
	if cfg.MaxSignals <= 0 {
		cfg.MaxSignals = DefaultMaxSignalsPerScan
	}
	if cfg.BarCount < gen.minBars {
		cfg.BarCount = 2 * gen.minBars
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	return &Scanner{generate: gen.Generate, source: source, cfg: cfg}
}

// Scan evaluates symbols in order and stops after MaxSignals signals. A symbol
// whose data cannot be fetched, or whose evaluation panics, is logged and skipped.
func (s *Scanner) Scan(ctx context.Context, symbols []string) ([]models.Signal, error) {
	span, ctx := tracing.StartSpan(ctx, "strategy.Scan")
	defer span.Finish()

	var out []models.Signal
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			tracing.Fail(span, err)
			return out, err
		}
		bars, err := s.source.GetBars(ctx, sym, s.cfg.Interval, s.cfg.BarCount)
		if err != nil {
			logger.Warn("scan %s: %v", sym, err)
			continue
		}
		if err := models.ValidateBars(bars); err != nil {
			logger.Warn("scan %s: %v", sym, err)
			continue
		}
		sig, ok, err := s.evaluate(sym, bars)
		if err != nil {
			logger.Error("scan %s: %v", sym, err)
			continue
		}
		if ok {
			out = append(out, sig)
		}
		if len(out) >= s.cfg.MaxSignals {
			break
		}
	}
	span.SetTag("signals", len(out))
	logger.Info("scan done: %d symbols, %d signals", len(symbols), len(out))
	return out, nil
}

func (s *Scanner) evaluate(symbol string, bars []models.PriceBar) (sig models.Signal, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal generation panicked: %v", r)
		}
	}()
	sig, ok = s.generate(symbol, bars)
	return sig, ok, nil
}
