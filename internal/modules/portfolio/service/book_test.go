package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conservative_bot/internal/models"
	emergencyservice "conservative_bot/internal/modules/emergency/service"
	riskservice "conservative_bot/internal/modules/risk/service"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type priceSource struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (s *priceSource) set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *priceSource) GetBars(_ context.Context, symbol, _ string, _ int) ([]models.PriceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.prices[symbol]
	if !ok {
		return nil, nil
	}
	return []models.PriceBar{{Timestamp: t0, Open: p, High: p, Low: p, Close: p}}, nil
}

type fakeGuard struct {
	halted  bool
	results []bool
}

func (g *fakeGuard) CanTrade() bool                    { return !g.halted }
func (g *fakeGuard) RecordTradeResult(profitable bool) { g.results = append(g.results, profitable) }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBook() (*Book, *priceSource, *clock) {
	src := &priceSource{prices: map[string]float64{}}
	c := &clock{t: t0}
	b := NewBook(Config{InitialBalance: 1000}, riskservice.NewManager(models.DefaultRiskLimits()), src, WithClock(c.now))
	return b, src, c
}

func longSignal(symbol string) models.Signal {
	return models.Signal{Symbol: symbol, Direction: models.Long, Confidence: 80,
		EntryPrice: 100, StopLoss: 98, TakeProfit: 104, SuggestedLeverage: 2}
}

func TestRefreshTakeProfit(t *testing.T) {
	b, src, _ := newTestBook()
	g := &fakeGuard{}
	b.SetGuard(g)

	_, err := b.Open(context.Background(), longSignal("BTC/USDT"), 2)
	require.NoError(t, err)

	src.set("BTC/USDT", 102)
	closed, err := b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, closed)
	snap := b.Snapshot()
	assert.InDelta(t, 1004, snap.TotalBalance, 1e-9)
	assert.InDelta(t, 4, snap.DailyPnL, 1e-9)

	src.set("BTC/USDT", 105)
	closed, err = b.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitTakeProfit, closed[0].ExitReason)
	assert.InDelta(t, 10, closed[0].PnL, 1e-9)
	assert.Equal(t, []bool{true}, g.results)

	bal, err := b.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1010, bal, 1e-9)
	assert.Len(t, b.Trades(), 1)
}

func TestRefreshStopLossShort(t *testing.T) {
	b, src, _ := newTestBook()
	g := &fakeGuard{}
	b.SetGuard(g)

	sig := models.Signal{Symbol: "ETH/USDT", Direction: models.Short, EntryPrice: 100, StopLoss: 102, TakeProfit: 96}
	_, err := b.Open(context.Background(), sig, 1)
	require.NoError(t, err)

	src.set("ETH/USDT", 103)
	closed, err := b.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitStopLoss, closed[0].ExitReason)
	assert.InDelta(t, -3, closed[0].PnL, 1e-9)
	assert.Equal(t, []bool{false}, g.results)
}

func TestRefreshReportsPriceErrors(t *testing.T) {
	b, src, _ := newTestBook()
	_, err := b.Open(context.Background(), longSignal("BTC/USDT"), 1)
	require.NoError(t, err)

	src.err = errors.New("feed down")
	closed, err := b.Refresh(context.Background())
	assert.Error(t, err)
	assert.Empty(t, closed)
	assert.Len(t, b.Snapshot().Positions, 1)
}

func TestOpenRefusedWhileHalted(t *testing.T) {
	b, _, _ := newTestBook()
	b.SetGuard(&fakeGuard{halted: true})

	_, err := b.Open(context.Background(), longSignal("BTC/USDT"), 1)
	assert.ErrorIs(t, err, emergencyservice.ErrTradingHalted)
}

func TestOpenLimits(t *testing.T) {
	b, src, c := newTestBook()
	ctx := context.Background()

	var ids []string
	for _, sym := range []string{"A/USDT", "B/USDT", "C/USDT"} {
		p, err := b.Open(ctx, longSignal(sym), 1)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	_, err := b.Open(ctx, longSignal("D/USDT"), 1)
	assert.ErrorIs(t, err, ErrCapacity)

	src.set("A/USDT", 100)
	require.NoError(t, b.ClosePosition(ctx, "A/USDT", ids[0]))

	_, err = b.Open(ctx, longSignal("D/USDT"), 1)
	assert.ErrorIs(t, err, ErrDailyTradeLimit)

	_, err = b.Open(ctx, longSignal("B/USDT"), 1)
	assert.Error(t, err)

	c.t = c.t.Add(24 * time.Hour)
	_, err = b.Open(ctx, longSignal("B/USDT"), 1)
	assert.ErrorIs(t, err, ErrSymbolOpen)
	_, err = b.Open(ctx, longSignal("D/USDT"), 1)
	assert.NoError(t, err)
}

func TestOpenRejectsMissingStop(t *testing.T) {
	b, _, _ := newTestBook()
	sig := longSignal("BTC/USDT")
	sig.StopLoss = 0
	_, err := b.Open(context.Background(), sig, 1)
	assert.ErrorIs(t, err, models.ErrNoStopLoss)
}

func TestSnapshot(t *testing.T) {
	b, _, _ := newTestBook()
	_, err := b.Open(context.Background(), longSignal("BTC/USDT"), 2)
	require.NoError(t, err)

	snap := b.Snapshot()
	assert.InDelta(t, 1000, snap.TotalBalance, 1e-9)
	assert.InDelta(t, 0.4, snap.TotalRiskPercent, 1e-9)
	assert.Equal(t, 1, snap.ActivePositions)
	assert.Equal(t, 1, snap.DailyTrades)
	assert.Equal(t, t0, snap.Timestamp)
	assert.Equal(t, []string{"Portfolio risk is within acceptable limits."}, snap.Suggestions)
}

func TestSnapshotSuggestions(t *testing.T) {
	b, _, _ := newTestBook()
	ctx := context.Background()
	for _, sym := range []string{"A/USDT", "B/USDT", "C/USDT"} {
		_, err := b.Open(ctx, longSignal(sym), 10)
		require.NoError(t, err)
	}
	snap := b.Snapshot()
	assert.InDelta(t, 6, snap.TotalRiskPercent, 1e-9)
	require.Len(t, snap.Suggestions, 2)
	assert.Contains(t, snap.Suggestions[0], "Portfolio risk (6.0%) exceeds maximum (5.0%)")
	assert.Contains(t, snap.Suggestions[1], "Daily trading limit reached")
}

func TestClosePositionFallsBackToMark(t *testing.T) {
	b, src, _ := newTestBook()
	ctx := context.Background()
	p, err := b.Open(ctx, longSignal("BTC/USDT"), 1)
	require.NoError(t, err)

	src.set("BTC/USDT", 101)
	_, err = b.Refresh(ctx)
	require.NoError(t, err)

	src.err = errors.New("feed down")
	require.NoError(t, b.ClosePosition(ctx, "BTC/USDT", p.ID))

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitEmergency, trades[0].ExitReason)
	assert.InDelta(t, 101, trades[0].ExitPrice, 1e-9)

	assert.ErrorIs(t, b.ClosePosition(ctx, "BTC/USDT", p.ID), ErrUnknownPosition)
}

func TestEmergencyStopFlattensBook(t *testing.T) {
	b, src, _ := newTestBook()
	ctx := context.Background()
	m := emergencyservice.NewMonitor(emergencyservice.DefaultConfig(), emergencyservice.WithBroker(b))
	b.SetGuard(m)

	_, err := b.Open(ctx, longSignal("BTC/USDT"), 1)
	require.NoError(t, err)
	_, err = b.Open(ctx, longSignal("ETH/USDT"), 1)
	require.NoError(t, err)
	src.set("BTC/USDT", 99)
	src.set("ETH/USDT", 99)

	rep := m.Activate(ctx, "operator stop")
	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/USDT"}, rep.ClosedPositions)
	assert.True(t, rep.OrdersCancelled)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Zero(t, m.State().ConsecutiveLosses)

	_, err = b.Open(ctx, longSignal("SOL/USDT"), 1)
	assert.ErrorIs(t, err, emergencyservice.ErrTradingHalted)
}

// stopAfterCheck answers like the monitor, then lets a full activation run
// before Open resumes.
type stopAfterCheck struct {
	m    *emergencyservice.Monitor
	once sync.Once
}

func (g *stopAfterCheck) CanTrade() bool {
	ok := g.m.CanTrade()
	g.once.Do(func() { g.m.Activate(context.Background(), "operator stop") })
	return ok
}

func (g *stopAfterCheck) RecordTradeResult(profitable bool) { g.m.RecordTradeResult(profitable) }

func TestOpenRefusedWhenStopLandsAfterGuardCheck(t *testing.T) {
	b, _, _ := newTestBook()
	ctx := context.Background()
	m := emergencyservice.NewMonitor(emergencyservice.DefaultConfig(), emergencyservice.WithBroker(b))
	b.SetGuard(&stopAfterCheck{m: m})

	_, err := b.Open(ctx, longSignal("BTC/USDT"), 1)
	assert.ErrorIs(t, err, emergencyservice.ErrTradingHalted)
	assert.True(t, m.State().IsActive)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestResetLiftsEntryLatch(t *testing.T) {
	b, _, _ := newTestBook()
	ctx := context.Background()
	m := emergencyservice.NewMonitor(emergencyservice.DefaultConfig(), emergencyservice.WithBroker(b))
	b.SetGuard(m)

	m.Activate(ctx, "operator stop")
	_, err := b.Open(ctx, longSignal("BTC/USDT"), 1)
	assert.ErrorIs(t, err, emergencyservice.ErrTradingHalted)

	require.NoError(t, m.Reset(false))
	_, err = b.Open(ctx, longSignal("BTC/USDT"), 1)
	assert.NoError(t, err)
}
