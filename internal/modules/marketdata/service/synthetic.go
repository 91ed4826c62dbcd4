package service

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"conservative_bot/internal/helper"
	"conservative_bot/internal/models"
)

// reference prices for synthetic walks, quoted in USDT
var basePrices = map[string]float64{
	"BTC": 45000, "ETH": 2500, "BNB": 300, "SOL": 100, "ADA": 0.5,
	"FET": 1.2, "AGIX": 0.8, "OCEAN": 0.6, "RNDR": 8.0,
	"DOGE": 0.08, "SHIB": 0.000025, "PEPE": 0.000012, "FLOKI": 0.00015,
	"UNI": 7.5, "AAVE": 85, "COMP": 60, "MKR": 1500,
	"MATIC": 0.9, "ARB": 1.1, "OP": 2.3,
	"AXS": 6.5, "SAND": 0.45, "MANA": 0.38,
}

const defaultBasePrice = 1000.0

// Synthetic generates a seeded random walk per symbol. The same seed, end
// time and arguments always produce the same bars. A zero end follows the
// wall clock.
type Synthetic struct {
	seed int64
	end  time.Time
	// max absolute close-to-close move
	step float64
}

func NewSynthetic(seed int64, end time.Time) *Synthetic {
	if !end.IsZero() {
		end = end.UTC()
	}
	return &Synthetic{seed: seed, end: end, step: 0.02}
}

func (s *Synthetic) GetBars(ctx context.Context, symbol, interval string, count int) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	rng := rand.New(rand.NewSource(s.seed ^ symbolHash(symbol)))
	end := s.end
	if end.IsZero() {
		end = time.Now().UTC()
	}
	last := end.Truncate(d)
	first := last.Add(-time.Duration(count-1) * d)

	price := BasePrice(symbol)
	prev := price
	bars := make([]models.PriceBar, count)
	for i := range bars {
		price *= 1 + uniform(rng, -s.step, s.step)
		open := prev
		if i == 0 {
			open = price
		}
		bars[i] = models.PriceBar{
			Timestamp: first.Add(time.Duration(i) * d),
			Open:      open,
			High:      price * uniform(rng, 1.001, 1.015),
			Low:       price * uniform(rng, 0.985, 0.999),
			Close:     price,
			Volume:    uniform(rng, 1_000_000, 10_000_000),
		}
		prev = price
	}
	return bars, nil
}

// BasePrice returns the reference price of a symbol such as "BTC/USDT" or "BTCUSDT".
func BasePrice(symbol string) float64 {
	if p, ok := basePrices[helper.BaseAsset(symbol)]; ok {
		return p
	}
	return defaultBasePrice
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func symbolHash(symbol string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int64(h.Sum64())
}
