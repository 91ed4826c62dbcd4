package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conservative_bot/internal/helper"
	"conservative_bot/internal/models"
)

var (
	ErrUnknownInterval = errors.New("unknown interval")
	ErrNoData          = errors.New("no market data")
)

// Source supplies closed OHLCV bars, oldest first.
type Source interface {
	GetBars(ctx context.Context, symbol, interval string, count int) ([]models.PriceBar, error)
}

// IntervalDuration maps a timeframe such as "1h" or "15m" to its length.
func IntervalDuration(interval string) (time.Duration, error) {
	switch helper.NormTF(interval) {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
}

// Memory serves fixed bar series, mostly for tests and replays.
type Memory struct {
	bars map[string][]models.PriceBar
}

func NewMemory(bars map[string][]models.PriceBar) *Memory {
	return &Memory{bars: bars}
}

// GetBars returns the last count bars for symbol. interval is not checked.
func (m *Memory) GetBars(ctx context.Context, symbol, _ string, count int) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, ok := m.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}
	if count >= 0 && count < len(bars) {
		bars = bars[len(bars)-count:]
	}
	out := make([]models.PriceBar, len(bars))
	copy(out, bars)
	return out, nil
}
