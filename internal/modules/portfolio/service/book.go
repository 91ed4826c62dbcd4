package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"conservative_bot/internal/models"
	emergencyservice "conservative_bot/internal/modules/emergency/service"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
)

// DefaultMaxTotalRiskPercent is the combined stop distance across open
// positions above which the book suggests shrinking.
const DefaultMaxTotalRiskPercent = 5.0

var (
	ErrCapacity        = errors.New("portfolio at capacity")
	ErrDailyTradeLimit = errors.New("daily trade limit reached")
	ErrSymbolOpen      = errors.New("symbol already has an open position")
	ErrUnknownPosition = errors.New("unknown position")
)

// Guard vetoes entries and counts closed trades; the emergency monitor is one.
type Guard interface {
	CanTrade() bool
	RecordTradeResult(profitable bool)
}

type Notifier interface {
	Send(msg string)
}

type Config struct {
	InitialBalance      float64
	Interval            string
	PriceBars           int
	MaxTotalRiskPercent float64
}

type Option func(*Book)

func WithClock(now func() time.Time) Option { return func(b *Book) { b.now = now } }

func WithNotifier(n Notifier) Option { return func(b *Book) { b.notifier = n } }

func WithMetrics(m *observability.Metrics) Option { return func(b *Book) { b.metrics = m } }

// Book is a paper position book priced from a market data source. It never
// reaches an exchange.
type Book struct {
	cfg      Config
	risk     *riskservice.Manager
	source   mdservice.Source
	notifier Notifier
	metrics  *observability.Metrics
	now      func() time.Time

	mu          sync.Mutex
	guard       Guard
	halted      bool
	balance     float64
	positions   map[string]*models.Position
	trades      []models.Trade
	dailyPnL    float64
	dailyTrades int
	day         time.Time
	seq         int
}

func NewBook(cfg Config, risk *riskservice.Manager, source mdservice.Source, opts ...Option) *Book {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.PriceBars <= 0 {
		cfg.PriceBars = 1
	}
	if cfg.MaxTotalRiskPercent <= 0 {
		cfg.MaxTotalRiskPercent = DefaultMaxTotalRiskPercent
	}
	b := &Book{
		cfg:       cfg,
		risk:      risk,
		source:    source,
		now:       time.Now,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*models.Position),
	}
	for _, o := range opts {
		o(b)
	}
	b.day = utcDay(b.now())
	return b
}

// SetGuard installs the entry gate after construction, since the guard
// itself usually flattens this book.
func (b *Book) SetGuard(g Guard) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.guard = g
}

// Open books a paper position for sig. Entries are refused while the guard
// halts trading, when the book is full or the day's trade budget is spent.
func (b *Book) Open(ctx context.Context, sig models.Signal, size float64) (models.Position, error) {
	if err := ctx.Err(); err != nil {
		return models.Position{}, err
	}
	b.mu.Lock()
	guard := b.guard
	b.mu.Unlock()
	if guard != nil && !guard.CanTrade() {
		return models.Position{}, emergencyservice.ErrTradingHalted
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// the guard may have halted after it was consulted
	if b.halted {
		return models.Position{}, emergencyservice.ErrTradingHalted
	}
	b.rollDay()

	if len(b.positions) >= b.risk.MaxSimultaneousPositions() {
		return models.Position{}, fmt.Errorf("open %s: %w (%d)", sig.Symbol, ErrCapacity, len(b.positions))
	}
	if b.dailyTrades >= b.risk.MaxDailyTrades() {
		return models.Position{}, fmt.Errorf("open %s: %w (%d)", sig.Symbol, ErrDailyTradeLimit, b.dailyTrades)
	}
	for _, p := range b.positions {
		if p.Symbol == sig.Symbol {
			return models.Position{}, fmt.Errorf("open %s: %w", sig.Symbol, ErrSymbolOpen)
		}
	}

	now := b.now()
	b.seq++
	id := fmt.Sprintf("%s_%s_%d", sig.Symbol, now.UTC().Format("20060102_150405"), b.seq)
	pos, err := models.NewPosition(id, sig.Symbol, sig.Direction, sig.EntryPrice, now,
		size, sig.StopLoss, sig.TakeProfit, sig.Confidence, sig.SuggestedLeverage)
	if err != nil {
		return models.Position{}, err
	}
	b.positions[id] = pos
	b.dailyTrades++
	b.metrics.PositionOpened()
	b.metrics.PortfolioUpdated(b.equityLocked(), len(b.positions))

	logger.Info("added position %s: %s %.6f @ %.6f sl=%.6f tp=%.6f",
		id, sig.Direction, size, sig.EntryPrice, sig.StopLoss, sig.TakeProfit)
	return *pos, nil
}

// Refresh marks every open position to the latest close and closes those
// whose stop or target was crossed. Closed trades are returned in close order.
func (b *Book) Refresh(ctx context.Context) ([]models.Trade, error) {
	b.mu.Lock()
	open := b.sortedLocked()
	b.mu.Unlock()

	prices := make(map[string]float64, len(open))
	var errs []error
	for _, p := range open {
		price, err := b.latestPrice(ctx, p.Symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		prices[p.ID] = price
	}

	b.mu.Lock()
	var closed []models.Trade
	now := b.now()
	for _, snap := range open {
		price, ok := prices[snap.ID]
		if !ok {
			continue
		}
		p, ok := b.positions[snap.ID]
		if !ok {
			continue
		}
		p.MarkToMarket(price)
		b.warnDrawdown(p, price)

		switch {
		case p.Direction.StopHit(price, p.StopLoss):
			logger.Warn("stop loss triggered for %s at %.6f", p.Symbol, price)
			closed = append(closed, b.closeLocked(p, price, now, models.ExitStopLoss))
		case p.Direction.TargetHit(price, p.TakeProfit):
			logger.Info("take profit reached for %s at %.6f", p.Symbol, price)
			closed = append(closed, b.closeLocked(p, price, now, models.ExitTakeProfit))
		}
	}
	guard := b.guard
	b.metrics.PortfolioUpdated(b.equityLocked(), len(b.positions))
	b.mu.Unlock()

	// outside the book lock: the guard may call back into ClosePosition
	for _, t := range closed {
		if guard != nil {
			guard.RecordTradeResult(t.Profitable())
		}
		if b.notifier != nil {
			b.notifier.Send(fmt.Sprintf("%s %s closed (%s): pnl %.2f USDT (%.2f%%)",
				t.Symbol, t.Direction, t.ExitReason, t.PnL, t.PnLPercent))
		}
	}
	return closed, errors.Join(errs...)
}

// warnDrawdown logs positions that gave back more than half of their stop distance.
func (b *Book) warnDrawdown(p *models.Position, price float64) {
	drawdown := -p.ReturnPct(price)
	stopDistance := math.Abs(p.EntryPrice-p.StopLoss) / p.EntryPrice
	if drawdown > stopDistance*0.5 {
		logger.Warn("high drawdown detected for %s: %.2f%%", p.Symbol, drawdown*100)
	}
}

func (b *Book) latestPrice(ctx context.Context, symbol string) (float64, error) {
	bars, err := b.source.GetBars(ctx, symbol, b.cfg.Interval, b.cfg.PriceBars)
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("price %s: %w", symbol, mdservice.ErrNoData)
	}
	return bars[len(bars)-1].Close, nil
}

func (b *Book) closeLocked(p *models.Position, price float64, at time.Time, reason models.ExitReason) models.Trade {
	t := p.Close(price, at, reason)
	delete(b.positions, p.ID)
	b.balance += t.PnL
	b.dailyPnL += t.PnL
	b.trades = append(b.trades, t)
	b.metrics.PositionClosed(string(reason))
	logger.Info("closing position %s for %s - reason: %s pnl=%.4f", p.ID, p.Symbol, reason, t.PnL)
	return t
}

// GetPositions returns copies of the open positions, oldest first.
func (b *Book) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked(), nil
}

// ClosePosition closes at the latest price, or the last marked price when the
// source is unavailable. Emergency exits do not feed the guard's loss counter.
func (b *Book) ClosePosition(ctx context.Context, symbol, id string) error {
	price, priceErr := b.latestPrice(ctx, symbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok || p.Symbol != symbol {
		return fmt.Errorf("close %s %s: %w", symbol, id, ErrUnknownPosition)
	}
	if priceErr != nil {
		if p.CurrentPrice <= 0 {
			return priceErr
		}
		logger.Warn("close %s: using last marked price %.6f: %v", id, p.CurrentPrice, priceErr)
		price = p.CurrentPrice
	}
	b.closeLocked(p, price, b.now(), models.ExitEmergency)
	b.metrics.PortfolioUpdated(b.equityLocked(), len(b.positions))
	return nil
}

// CancelAllOrders latches new entries off until ResumeTrading. Paper entries
// fill immediately and stops live on the positions, so nothing rests.
func (b *Book) CancelAllOrders(ctx context.Context) error {
	b.mu.Lock()
	b.halted = true
	b.mu.Unlock()
	return ctx.Err()
}

// ResumeTrading lifts the latch set by CancelAllOrders.
func (b *Book) ResumeTrading() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
}

// GetBalance returns equity: realized balance plus unrealized P&L.
func (b *Book) GetBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equityLocked(), nil
}

// Trades returns the closed trades in close order.
func (b *Book) Trades() []models.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// Snapshot summarizes the book for the emergency monitor.
func (b *Book) Snapshot() models.PortfolioSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()

	balance := b.equityLocked()
	daily := b.dailyPnL
	for _, p := range b.positions {
		daily += p.UnrealizedPnL
	}
	dailyPct := 0.0
	if balance > 0 {
		dailyPct = daily / balance * 100
	}
	snap := models.PortfolioSnapshot{
		TotalBalance:     balance,
		DailyPnL:         daily,
		DailyPnLPercent:  dailyPct,
		TotalRiskPercent: b.riskPercentLocked(balance),
		ActivePositions:  len(b.positions),
		DailyTrades:      b.dailyTrades,
		Positions:        b.sortedLocked(),
		Timestamp:        b.now(),
	}
	snap.Suggestions = b.suggest(snap)
	return snap
}

func (b *Book) suggest(s models.PortfolioSnapshot) []string {
	var out []string
	if s.TotalRiskPercent > b.cfg.MaxTotalRiskPercent {
		out = append(out, fmt.Sprintf("Portfolio risk (%.1f%%) exceeds maximum (%.1f%%). Consider reducing position sizes.",
			s.TotalRiskPercent, b.cfg.MaxTotalRiskPercent))
	}
	if s.ActivePositions > b.risk.MaxSimultaneousPositions() {
		out = append(out, fmt.Sprintf("Too many open positions (%d). Consider closing some positions.", s.ActivePositions))
	}
	if s.DailyTrades >= b.risk.MaxDailyTrades() {
		out = append(out, "Daily trading limit reached. No new trades recommended today.")
	}
	if b.risk.CheckDailyLossLimit(s.DailyPnLPercent) {
		out = append(out, "Daily loss limit exceeded. Consider stopping trading for today.")
	}
	if len(out) == 0 {
		out = append(out, "Portfolio risk is within acceptable limits.")
	}
	return out
}

// riskPercentLocked is the loss at every stop as a percent of balance, capped at 100.
func (b *Book) riskPercentLocked(balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	total := 0.0
	for _, p := range b.positions {
		total += p.RiskAmount()
	}
	return math.Min(total/balance*100, 100)
}

func (b *Book) equityLocked() float64 {
	eq := b.balance
	for _, p := range b.positions {
		eq += p.UnrealizedPnL
	}
	return eq
}

func (b *Book) rollDay() {
	today := utcDay(b.now())
	if today.Equal(b.day) {
		return
	}
	b.day = today
	b.dailyPnL = 0
	b.dailyTrades = 0
}

func (b *Book) sortedLocked() []models.Position {
	out := make([]models.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var (
	_ emergencyservice.Broker  = (*Book)(nil)
	_ emergencyservice.Resumer = (*Book)(nil)
)
