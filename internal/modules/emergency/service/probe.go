package service

import (
	"context"
	"time"

	mdservice "conservative_bot/internal/modules/marketdata/service"
	"conservative_bot/pkg/logger"
)

// SourceProbe treats the market data feed as the exchange link: a symbol
// that cannot be fetched within the timeout means the connection is lost.
type SourceProbe struct {
	source   mdservice.Source
	symbol   string
	interval string
	timeout  time.Duration
}

func NewSourceProbe(source mdservice.Source, symbol, interval string, timeout time.Duration) *SourceProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SourceProbe{source: source, symbol: symbol, interval: interval, timeout: timeout}
}

func (p *SourceProbe) TestConnection(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	bars, err := p.source.GetBars(ctx, p.symbol, p.interval, 1)
	if err != nil {
		logger.Warn("connectivity probe %s: %v", p.symbol, err)
		return false, nil
	}
	return len(bars) > 0, nil
}
