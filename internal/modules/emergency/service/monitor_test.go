package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conservative_bot/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type fakeBroker struct {
	positions []models.Position
	closeErr  map[string]error
	closed    []string
	cancelled int
	resumed   int
	calls     []string
}

func (b *fakeBroker) GetPositions(context.Context) ([]models.Position, error) { return b.positions, nil }

func (b *fakeBroker) ClosePosition(_ context.Context, symbol, _ string) error {
	if err := b.closeErr[symbol]; err != nil {
		return err
	}
	b.closed = append(b.closed, symbol)
	b.calls = append(b.calls, "close")
	return nil
}

func (b *fakeBroker) CancelAllOrders(context.Context) error {
	b.cancelled++
	b.calls = append(b.calls, "cancel")
	return nil
}

func (b *fakeBroker) ResumeTrading() { b.resumed++ }

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Send(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

type probeFunc func(ctx context.Context) (bool, error)

func (f probeFunc) TestConnection(ctx context.Context) (bool, error) { return f(ctx) }

var day0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestMonitor(opts ...Option) (*Monitor, *fakeClock) {
	clk := &fakeClock{t: day0}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return NewMonitor(DefaultConfig(), opts...), clk
}

func snap(balance, dailyPct float64) models.PortfolioSnapshot {
	return models.PortfolioSnapshot{TotalBalance: balance, DailyPnLPercent: dailyPct}
}

func TestCriticalBalanceThreshold(t *testing.T) {
	m, _ := newTestMonitor(WithState(models.EmergencyState{DailyStartBalance: 1000}))

	require.True(t, m.CheckAllTriggers(context.Background(), snap(400, 0)))
	st := m.State()
	assert.True(t, st.IsActive)
	assert.Contains(t, st.ActivationReason, "critical threshold")
	assert.Contains(t, st.ActivationReason, "40.0%")
	assert.False(t, m.CanTrade())
}

func TestSixtyPercentIsAboveThreshold(t *testing.T) {
	m, _ := newTestMonitor(WithState(models.EmergencyState{DailyStartBalance: 1000}))
	assert.False(t, m.CheckAllTriggers(context.Background(), snap(600, 0)))
	assert.True(t, m.CanTrade())
}

func TestActivationIsIdempotent(t *testing.T) {
	b := &fakeBroker{}
	n := &fakeNotifier{}
	m, _ := newTestMonitor(WithBroker(b), WithNotifier(n))

	first := m.Activate(context.Background(), "first reason")
	assert.True(t, first.Activated)
	activatedAt := m.State().ActivationTime

	second := m.Activate(context.Background(), "second reason")
	assert.False(t, second.Activated)
	assert.Equal(t, "first reason", second.Reason)
	assert.Equal(t, "first reason", m.State().ActivationReason)
	assert.Equal(t, activatedAt, m.State().ActivationTime)

	assert.Equal(t, 1, b.cancelled)
	assert.Len(t, n.msgs, 1)
}

func TestDailyLossTrigger(t *testing.T) {
	m, _ := newTestMonitor()
	assert.False(t, m.CheckAllTriggers(context.Background(), snap(1000, -3)))
	assert.True(t, m.CheckAllTriggers(context.Background(), snap(969, -3.1)))
	assert.Equal(t, "Daily loss limit exceeded: -3.10% (limit: 3.0%)", m.State().ActivationReason)
}

func TestDrawdownTrigger(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()
	require.False(t, m.CheckAllTriggers(ctx, snap(1000, 0)))
	require.False(t, m.CheckAllTriggers(ctx, snap(1200, 0)))
	assert.Equal(t, 1200.0, m.State().MaxBalanceToday)
	assert.Equal(t, 1000.0, m.State().DailyStartBalance)

	// 1070 is 10.83% under the 1200 peak
	require.True(t, m.CheckAllTriggers(ctx, snap(1070, 0)))
	assert.Contains(t, m.State().ActivationReason, "Maximum drawdown exceeded: 10.83%")
}

func TestConsecutiveLossesTrigger(t *testing.T) {
	m, _ := newTestMonitor()
	for i := 0; i < 4; i++ {
		m.RecordTradeResult(false)
	}
	assert.False(t, m.CheckAllTriggers(context.Background(), snap(1000, 0)))

	m.RecordTradeResult(true)
	assert.Zero(t, m.State().ConsecutiveLosses)

	for i := 0; i < 5; i++ {
		m.RecordTradeResult(false)
	}
	assert.True(t, m.CheckAllTriggers(context.Background(), snap(1000, 0)))
	assert.Equal(t, "Consecutive losses limit exceeded: 5 (limit: 5)", m.State().ActivationReason)
}

func TestTriggerOrder(t *testing.T) {
	// daily loss, drawdown and threshold all fire; daily loss is first
	m, _ := newTestMonitor(WithState(models.EmergencyState{DailyStartBalance: 1000, MaxBalanceToday: 1000}))
	require.True(t, m.CheckAllTriggers(context.Background(), snap(300, -70)))
	assert.Contains(t, m.State().ActivationReason, "Daily loss limit exceeded")
}

func TestProbeFailureIsCritical(t *testing.T) {
	down := probeFunc(func(context.Context) (bool, error) { return false, nil })
	m, _ := newTestMonitor(WithProbe(down))

	require.True(t, m.CheckAllTriggers(context.Background(), snap(1000, 0)))
	st := m.State()
	assert.Equal(t, ReasonConnectionLost, st.ActivationReason)
	assert.True(t, st.Critical)

	assert.ErrorIs(t, m.Reset(false), ErrManualOverrideRequired)
	assert.True(t, m.State().IsActive)

	require.NoError(t, m.Reset(true))
	assert.True(t, m.CanTrade())
}

func TestProbeErrorAndPanic(t *testing.T) {
	failing := probeFunc(func(context.Context) (bool, error) { return false, errors.New("timeout") })
	m, _ := newTestMonitor(WithProbe(failing))
	require.True(t, m.CheckAllTriggers(context.Background(), snap(1000, 0)))
	assert.Equal(t, ReasonHealthFailed, m.State().ActivationReason)

	panicky := probeFunc(func(context.Context) (bool, error) { panic("nil client") })
	m, _ = newTestMonitor(WithProbe(panicky))
	require.True(t, m.CheckAllTriggers(context.Background(), snap(1000, 0)))
	assert.Equal(t, ReasonHealthFailed, m.State().ActivationReason)
	assert.True(t, m.State().Critical)
}

func TestBadSnapshotFailsSafe(t *testing.T) {
	m, _ := newTestMonitor()
	require.True(t, m.CheckAllTriggers(context.Background(), snap(math.NaN(), 0)))
	assert.Equal(t, ReasonTriggerFault, m.State().ActivationReason)
	assert.False(t, m.State().Critical)
}

func TestNonCriticalResetWithoutOverride(t *testing.T) {
	n := &fakeNotifier{}
	m, clk := newTestMonitor(WithNotifier(n))
	m.Activate(context.Background(), "Daily loss limit exceeded: -4.00% (limit: 3.0%)")

	clk.t = clk.t.Add(90 * time.Minute)
	require.NoError(t, m.Reset(false))
	assert.True(t, m.CanTrade())
	assert.Empty(t, m.State().ActivationReason)
	require.Len(t, n.msgs, 2)
	assert.Contains(t, n.msgs[1], "1h30m0s")

	// resetting an inactive stop is a no-op
	assert.NoError(t, m.Reset(false))
}

func TestActiveStopShortCircuits(t *testing.T) {
	calls := 0
	probe := probeFunc(func(context.Context) (bool, error) { calls++; return true, nil })
	m, _ := newTestMonitor(WithProbe(probe))
	m.Activate(context.Background(), "manual")

	assert.True(t, m.CheckAllTriggers(context.Background(), snap(1000, 0)))
	assert.Zero(t, calls)
}

func TestDailyCountersResetOnNewDay(t *testing.T) {
	m, clk := newTestMonitor()
	require.False(t, m.CheckAllTriggers(context.Background(), snap(1000, 0)))
	assert.Equal(t, 1000.0, m.State().DailyStartBalance)

	clk.t = clk.t.Add(24 * time.Hour)
	require.False(t, m.CheckAllTriggers(context.Background(), snap(800, 0)))
	st := m.State()
	assert.Equal(t, 800.0, st.DailyStartBalance)
	assert.Equal(t, 800.0, st.MaxBalanceToday)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), st.LastResetDate)
}

func TestActivationFlattensBroker(t *testing.T) {
	b := &fakeBroker{
		positions: []models.Position{{ID: "1", Symbol: "BTC/USDT"}, {ID: "2", Symbol: "ETH/USDT"}},
		closeErr:  map[string]error{"ETH/USDT": errors.New("rejected")},
	}
	m, _ := newTestMonitor(WithBroker(b))

	rep := m.Activate(context.Background(), "manual stop")
	assert.Equal(t, []string{"BTC/USDT"}, rep.ClosedPositions)
	assert.Equal(t, []string{"ETH/USDT"}, rep.FailedPositions)
	assert.True(t, rep.OrdersCancelled)
	assert.Len(t, rep.Errors, 1)

	last := m.LastActivation()
	require.NotNil(t, last)
	assert.Equal(t, rep.Reason, last.Reason)
}

func TestStatus(t *testing.T) {
	m, _ := newTestMonitor()
	st := m.Status()
	assert.False(t, st.IsActive)
	assert.Nil(t, st.ActivationTime)
	assert.Equal(t, 3.0, st.DailyLossLimit)
	assert.Equal(t, 10.0, st.MaxDrawdownLimit)
	assert.True(t, st.CanTrade)

	m.Activate(context.Background(), "x")
	st = m.Status()
	require.NotNil(t, st.ActivationTime)
	assert.Equal(t, day0, *st.ActivationTime)
	assert.False(t, st.CanTrade)
}

func TestConcurrentChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1000
	m := NewMonitor(cfg)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.RecordTradeResult(i%2 == 0)
			m.CheckAllTriggers(context.Background(), snap(1000, 0))
			_ = m.Status()
		}(i)
	}
	wg.Wait()
	assert.True(t, m.CanTrade())
}

func TestActivationLatchesBrokerBeforeFlatten(t *testing.T) {
	b := &fakeBroker{positions: []models.Position{{ID: "a", Symbol: "BTC/USDT"}}}
	m, _ := newTestMonitor(WithBroker(b))

	m.Activate(context.Background(), "operator stop")
	assert.Equal(t, []string{"cancel", "close"}, b.calls)
	assert.Zero(t, b.resumed)

	require.NoError(t, m.Reset(false))
	assert.Equal(t, 1, b.resumed)
}
