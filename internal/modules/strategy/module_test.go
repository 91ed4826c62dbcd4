package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conservative_bot/internal/models"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/internal/modules/strategy/service"
)

// zigzag is a rising series with alternating noise; the generator reads it
// as a clean long setup.
func zigzag(n int, start, slope float64) []models.PriceBar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.PriceBar, n)
	for i := range bars {
		noise := 0.6
		if i%2 == 1 {
			noise = -0.6
		}
		c := start + slope*float64(i) + noise
		bars[i] = models.PriceBar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000,
		}
	}
	return bars
}

func TestScanOnceDropsWhenQueueFull(t *testing.T) {
	src := mdservice.NewSynthetic(7, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	gen := service.NewGenerator(riskservice.NewManager(models.DefaultRiskLimits()), service.GeneratorConfig{})
	sc := service.NewScanner(gen, src, service.ScannerConfig{})

	out := make(chan models.Signal)
	assert.NotPanics(t, func() {
		scanOnce(context.Background(), sc, []string{"BTC/USDT", "ETH/USDT"}, out, nil)
	})
}

func TestScanLoopPublishesAndStops(t *testing.T) {
	src := mdservice.NewMemory(map[string][]models.PriceBar{"BTC/USDT": zigzag(60, 100, 0.4)})
	gen := service.NewGenerator(riskservice.NewManager(models.DefaultRiskLimits()), service.GeneratorConfig{})
	sc := service.NewScanner(gen, src, service.ScannerConfig{})

	direct, err := sc.Scan(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)
	require.Len(t, direct, 1)

	out := make(chan models.Signal, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ScanLoop(ctx, sc, []string{"BTC/USDT"}, time.Hour, out, nil)
		close(done)
	}()

	select {
	case sig := <-out:
		assert.Equal(t, direct[0], sig)
	case <-time.After(5 * time.Second):
		t.Fatal("no signal published")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan loop did not stop")
	}
}
