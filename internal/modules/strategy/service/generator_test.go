package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conservative_bot/internal/indicators"
	"conservative_bot/internal/models"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// zigzag builds a trending series with alternating noise so RSI stays mid-range.
func zigzag(n int, start, slope float64) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := range bars {
		noise := 0.6
		if i%2 == 1 {
			noise = -0.6
		}
		c := start + slope*float64(i) + noise
		bars[i] = models.PriceBar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func flat(n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := range bars {
		bars[i] = models.PriceBar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000,
		}
	}
	return bars
}

func newTestGenerator() *Generator {
	return NewGenerator(riskservice.NewManager(models.DefaultRiskLimits()), GeneratorConfig{})
}

func TestGenerateLong(t *testing.T) {
	bars := zigzag(60, 100, 0.4)
	sig, ok := newTestGenerator().Generate("BTC/USDT", bars)
	require.True(t, ok)

	last := bars[len(bars)-1]
	assert.Equal(t, models.Long, sig.Direction)
	assert.Equal(t, last.Close, sig.EntryPrice)
	assert.Equal(t, last.Timestamp, sig.Timestamp)
	assert.GreaterOrEqual(t, sig.Confidence, 85.0)
	assert.LessOrEqual(t, sig.Confidence, 95.0)
	assert.Less(t, sig.StopLoss, sig.EntryPrice)
	assert.InDelta(t, 3.4, sig.EntryPrice-sig.StopLoss, 1e-9)
	assert.InDelta(t, 2*(sig.EntryPrice-sig.StopLoss), sig.TakeProfit-sig.EntryPrice, 1e-9)
	assert.Equal(t, 2.0, sig.RiskRewardRatio)
	assert.Contains(t, []int{2, 3}, sig.SuggestedLeverage)
}

func TestGenerateShort(t *testing.T) {
	sig, ok := newTestGenerator().Generate("ETH/USDT", zigzag(60, 150, -0.4))
	require.True(t, ok)
	assert.Equal(t, models.Short, sig.Direction)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
}

func TestGenerateInsufficientData(t *testing.T) {
	_, ok := newTestGenerator().Generate("BTC/USDT", zigzag(49, 100, 0.4))
	assert.False(t, ok)
}

func TestGenerateUnfavorable(t *testing.T) {
	g := newTestGenerator()
	cond := g.AnalyzeMarketConditions(flat(60))
	assert.False(t, cond.TrendClear)
	assert.False(t, cond.RiskRewardFavorable)
	assert.True(t, cond.VolumeAdequate)
	assert.False(t, cond.OverallFavorable)

	_, ok := g.Generate("BTC/USDT", flat(60))
	assert.False(t, ok)
}

func TestGenerateRespectsMinConfidence(t *testing.T) {
	g := NewGenerator(riskservice.NewManager(models.DefaultRiskLimits()), GeneratorConfig{MinConfidence: 96})
	_, ok := g.Generate("BTC/USDT", zigzag(60, 100, 0.4))
	assert.False(t, ok)
}

func TestAnalyzeMarketConditionsShortHistory(t *testing.T) {
	assert.Equal(t, MarketConditions{}, newTestGenerator().AnalyzeMarketConditions(zigzag(30, 100, 0.4)))
}

func TestVolumeAdequate(t *testing.T) {
	bars := flat(30)
	assert.True(t, volumeAdequate(bars))

	bars[len(bars)-1].Volume = 100
	assert.False(t, volumeAdequate(bars))

	for i := range bars {
		bars[i].Volume = 0
	}
	assert.True(t, volumeAdequate(bars))
	assert.True(t, volumeAdequate(bars[:10]))
}

func TestSuggestedLeverage(t *testing.T) {
	assert.Equal(t, 2, suggestedLeverage(85))
	assert.Equal(t, 3, suggestedLeverage(90))
	assert.Equal(t, 3, suggestedLeverage(95))
	assert.Equal(t, 1, suggestedLeverage(10))
}

func TestScanStopsAtMaxSignals(t *testing.T) {
	src := mdservice.NewMemory(map[string][]models.PriceBar{
		"FLAT": flat(100),
		"UP":   zigzag(60, 100, 0.4),
		"DOWN": zigzag(60, 150, -0.4),
		"UP2":  zigzag(60, 100, 0.4),
	})
	sc := NewScanner(newTestGenerator(), src, ScannerConfig{})

	sigs, err := sc.Scan(context.Background(), []string{"GONE", "FLAT", "UP", "DOWN", "UP2"})
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "UP", sigs[0].Symbol)
	assert.Equal(t, "DOWN", sigs[1].Symbol)
}

func TestScanSkipsPanickingSymbol(t *testing.T) {
	src := mdservice.NewMemory(map[string][]models.PriceBar{
		"BAD": zigzag(60, 100, 0.4),
		"UP":  zigzag(60, 100, 0.4),
	})
	sc := NewScanner(newTestGenerator(), src, ScannerConfig{})
	gen := sc.generate
	sc.generate = func(symbol string, bars []models.PriceBar) (models.Signal, bool) {
		if symbol == "BAD" {
			panic("corrupt indicator state")
		}
		return gen(symbol, bars)
	}

	var sigs []models.Signal
	var err error
	require.NotPanics(t, func() {
		sigs, err = sc.Scan(context.Background(), []string{"BAD", "UP"})
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "UP", sigs[0].Symbol)
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc := NewScanner(newTestGenerator(), mdservice.NewMemory(nil), ScannerConfig{})
	_, err := sc.Scan(ctx, []string{"BTC"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSignalsNeverExceedCap(t *testing.T) {
	src := mdservice.NewSynthetic(7, t0.Add(1000*time.Hour))
	sc := NewScanner(newTestGenerator(), src, ScannerConfig{MaxSignals: 2, BarCount: 100})
	syms := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "DOGE/USDT", "UNI/USDT", "AAVE/USDT", "MANA/USDT"}
	sigs, err := sc.Scan(context.Background(), syms)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sigs), 2)
	for _, s := range sigs {
		assert.GreaterOrEqual(t, s.Confidence, DefaultMinConfidence)
		assert.LessOrEqual(t, math.Abs(s.EntryPrice-s.StopLoss)/s.EntryPrice, 0.05+1e-12)
	}
}

func latestOnly(price float64, values map[string]float64) ([]models.PriceBar, indicators.Set) {
	set := indicators.Set{}
	for k, v := range values {
		set[k] = []float64{v}
	}
	return []models.PriceBar{{Timestamp: t0, Open: price, High: price, Low: price, Close: price, Volume: 1000}}, set
}

func TestEntrySignalScores(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		values     map[string]float64
		wantLong   int
		wantShort  int
		wantSignal bool
		wantDir    models.Direction
	}{
		{
			name:  "tie yields nothing",
			price: 100,
			values: map[string]float64{
				indicators.KeyMA20: 101, indicators.KeyMA50: 102, indicators.KeyRSI: 50,
				indicators.KeyMACD: 1, indicators.KeyMACDSignal: 0.5,
				indicators.KeyBBUpper: 110, indicators.KeyBBLower: 90, indicators.KeyATR: 2,
			},
			wantLong: 3, wantShort: 3,
		},
		{
			name:  "both sides weak",
			price: 100,
			values: map[string]float64{
				indicators.KeyMA20: 100, indicators.KeyMA50: 100, indicators.KeyRSI: 80,
				indicators.KeyMACD: 1, indicators.KeyMACDSignal: 1,
				indicators.KeyBBUpper: 101, indicators.KeyBBLower: 99, indicators.KeyATR: 2,
			},
			wantLong: 1, wantShort: 1,
		},
		{
			name:  "long only",
			price: 103,
			values: map[string]float64{
				indicators.KeyMA20: 101, indicators.KeyMA50: 100, indicators.KeyRSI: 50,
				indicators.KeyMACD: 1, indicators.KeyMACDSignal: 0.5,
				indicators.KeyBBUpper: 110, indicators.KeyBBLower: 90, indicators.KeyATR: 2,
			},
			wantLong: 4, wantShort: 2, wantSignal: true, wantDir: models.Long,
		},
	}

	g := newTestGenerator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars, set := latestOnly(tt.price, tt.values)
			sc := Scores(bars, set)
			assert.Equal(t, tt.wantLong, sc.Long)
			assert.Equal(t, tt.wantShort, sc.Short)

			sig, ok := g.entrySignal("BTC/USDT", bars, set)
			require.Equal(t, tt.wantSignal, ok)
			if ok {
				assert.Equal(t, tt.wantDir, sig.Direction)
			}
		})
	}
}
