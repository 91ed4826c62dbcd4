package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionPnL(t *testing.T) {
	assert.Equal(t, 20.0, Long.PnL(100, 110, 2))
	assert.Equal(t, -20.0, Short.PnL(100, 110, 2))
	assert.Equal(t, 20.0, Short.PnL(100, 90, 2))

	assert.InDelta(t, 0.1, Long.ReturnPct(100, 110), 1e-12)
	assert.InDelta(t, -0.1, Short.ReturnPct(100, 110), 1e-12)

	assert.True(t, Long.StopHit(97, 98))
	assert.False(t, Short.StopHit(97, 98))
	assert.True(t, Short.TargetHit(90, 94))
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("short")
	require.NoError(t, err)
	assert.Equal(t, Short, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestNewPositionRequiresStop(t *testing.T) {
	now := time.Now()
	_, err := NewPosition("p1", "BTCUSDT", Long, 100, now, 1, 0, 110, 80, 2)
	assert.ErrorIs(t, err, ErrNoStopLoss)

	_, err = NewPosition("p1", "BTCUSDT", Long, 100, now, 1, 100, 110, 80, 2)
	assert.ErrorIs(t, err, ErrNoStopLoss)

	p, err := NewPosition("p1", "BTCUSDT", Long, 100, now, 2, 98, 104, 80, 2)
	require.NoError(t, err)
	assert.Equal(t, 200.0, p.NotionalValue)
	assert.Equal(t, 4.0, p.RiskAmount())
}

func TestPositionCloseSignMatchesDirection(t *testing.T) {
	now := time.Now()
	for _, tc := range []struct {
		dir   Direction
		exit  float64
		wantP bool
	}{
		{Long, 105, true},
		{Long, 95, false},
		{Short, 95, true},
		{Short, 105, false},
	} {
		p, err := NewPosition("p", "ETHUSDT", tc.dir, 100, now, 1, 50, 150, 80, 1)
		if tc.dir == Short {
			p, err = NewPosition("p", "ETHUSDT", tc.dir, 100, now, 1, 150, 50, 80, 1)
		}
		require.NoError(t, err)

		p.MarkToMarket(tc.exit)
		tr := p.Close(tc.exit, now.Add(time.Hour), ExitManual)
		assert.Equal(t, tc.wantP, tr.Profitable(), "%s exit %.0f", tc.dir, tc.exit)
		assert.Equal(t, p.UnrealizedPnL, tr.PnL)
		assert.InDelta(t, 5.0, abs(tr.PnLPercent), 1e-12)
	}
}

func TestValidateBars(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := []PriceBar{{Timestamp: t0}, {Timestamp: t0.Add(time.Hour)}, {Timestamp: t0.Add(5 * time.Hour)}}
	assert.NoError(t, ValidateBars(ok))

	bad := []PriceBar{{Timestamp: t0}, {Timestamp: t0}}
	assert.Error(t, ValidateBars(bad))
}

func TestRiskLimits(t *testing.T) {
	l := DefaultRiskLimits()
	require.NoError(t, l.Validate())
	assert.Equal(t, 1.5, l.MaxRiskPercentPerTrade)
	assert.Equal(t, 3, l.MaxSimultaneousPositions)

	l.MaxLeverage = 0
	assert.Error(t, l.Validate())
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
