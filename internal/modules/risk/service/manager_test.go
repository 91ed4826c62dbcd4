package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conservative_bot/internal/models"
)

func newTestManager() *Manager {
	return NewManager(models.DefaultRiskLimits())
}

func ptr(v float64) *float64 { return &v }

func validParams() TradeParams {
	return TradeParams{
		Leverage:        2,
		RiskPercent:     1,
		StopLoss:        ptr(98),
		PositionValue:   150,
		AccountBalance:  1000,
		RiskRewardRatio: 2,
	}
}

func TestValidateTradeAllPass(t *testing.T) {
	res := newTestManager().ValidateTrade(validParams())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Failed())
	require.Len(t, res.Checks, 5)
}

func TestValidateTradeLowRiskReward(t *testing.T) {
	m := newTestManager()

	res := m.ValidateTrade(TradeParams{Leverage: 2, RiskPercent: 1, StopLoss: ptr(100), RiskRewardRatio: 1.5})
	assert.False(t, res.Valid)
	assert.False(t, res.Passed(CheckRiskRewardAdequate))

	p := validParams()
	p.RiskRewardRatio = 1.5
	res = m.ValidateTrade(p)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{CheckRiskRewardAdequate}, res.Failed())
}

func TestValidateTradeFailures(t *testing.T) {
	m := newTestManager()
	cases := []struct {
		name   string
		mutate func(p *TradeParams)
		failed string
	}{
		{"leverage", func(p *TradeParams) { p.Leverage = 6 }, CheckLeverageSafe},
		{"risk", func(p *TradeParams) { p.RiskPercent = 1.6 }, CheckRiskAcceptable},
		{"no stop", func(p *TradeParams) { p.StopLoss = nil }, CheckStopLossSet},
		{"oversized", func(p *TradeParams) { p.PositionValue = 201 }, CheckPositionSizeSafe},
		{"no balance", func(p *TradeParams) { p.AccountBalance = 0 }, CheckPositionSizeSafe},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			res := m.ValidateTrade(p)
			assert.False(t, res.Valid)
			assert.Equal(t, []string{tc.failed}, res.Failed())
		})
	}
}

func TestCalculatePositionSizeClampedToNotionalCap(t *testing.T) {
	size := newTestManager().CalculatePositionSize(1000, 1.5, 100, 98)
	assert.InDelta(t, 2.0, size, 1e-12)
}

func TestCalculatePositionSizeRiskBound(t *testing.T) {
	// risk 15 over a 20 wide stop => 0.75 units, notional 75 under the cap
	size := newTestManager().CalculatePositionSize(1000, 5, 100, 80)
	assert.InDelta(t, 0.75, size, 1e-12)
}

func TestCalculatePositionSizeDegenerate(t *testing.T) {
	m := newTestManager()
	assert.Zero(t, m.CalculatePositionSize(1000, 1, 0, 98))
	assert.Zero(t, m.CalculatePositionSize(1000, 1, 100, 0))
	assert.Zero(t, m.CalculatePositionSize(1000, 1, 100, 100))
}

func TestCalculateStopLossNeverBeyondFivePercent(t *testing.T) {
	m := newTestManager()
	for _, atr := range []float64{0.01, 0.5, 1, 2.5, 3, 10, 1000} {
		for _, dir := range []models.Direction{models.Long, models.Short} {
			stop := m.CalculateStopLoss(100, dir, atr)
			assert.LessOrEqual(t, math.Abs(100-stop), 5.0+1e-9, "atr=%v dir=%s", atr, dir)
		}
	}
	assert.InDelta(t, 98.0, m.CalculateStopLoss(100, models.Long, 1), 1e-12)
	assert.InDelta(t, 102.0, m.CalculateStopLoss(100, models.Short, 1), 1e-12)
	assert.InDelta(t, 95.0, m.CalculateStopLoss(100, models.Long, 10), 1e-12)
}

func TestCalculateStopLossFallback(t *testing.T) {
	m := newTestManager()
	assert.InDelta(t, 98.0, m.CalculateStopLoss(100, models.Long, 0), 1e-12)
	assert.InDelta(t, 102.0, m.CalculateStopLoss(100, models.Short, math.NaN()), 1e-12)
}

func TestCalculateTakeProfit(t *testing.T) {
	m := newTestManager()
	assert.InDelta(t, 104.0, m.CalculateTakeProfit(100, 98, models.Long), 1e-12)
	assert.InDelta(t, 96.0, m.CalculateTakeProfit(100, 102, models.Short), 1e-12)
}

func TestCheckDailyLossLimit(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.CheckDailyLossLimit(-3))
	assert.True(t, m.CheckDailyLossLimit(-3.01))
	assert.False(t, m.CheckDailyLossLimit(2))
	assert.Equal(t, 3, m.MaxSimultaneousPositions())
	assert.Equal(t, 3, m.MaxDailyTrades())
}

func TestCappedSizePassesPositionCheck(t *testing.T) {
	m := NewManager(models.DefaultRiskLimits())
	entry := 45123.37
	size := m.CalculatePositionSize(1000, 1.5, entry, entry*0.999)
	stop := entry * 0.999

	res := m.ValidateTrade(TradeParams{
		Leverage:        2,
		RiskPercent:     1,
		StopLoss:        &stop,
		PositionValue:   size * entry,
		AccountBalance:  1000,
		RiskRewardRatio: 2,
	})
	assert.True(t, res.Passed(CheckPositionSizeSafe))
}
