package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"conservative_bot/internal/models"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
	"conservative_bot/pkg/tracing"
)

// minHistoryBars is the current bar plus 20 prior bars.
const minHistoryBars = 21

// TradeGate can veto new entries, e.g. while an emergency stop is active.
type TradeGate interface {
	CanTrade() bool
}

type Config struct {
	InitialBalance float64
	StopLossPct    float64
	TakeProfitPct  float64
	PositionPct    float64
	Leverage       int
	MaxPositions   int
	MinConfidence  float64
	Interval       string
	SignalEvery    time.Duration
	SnapshotEvery  time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialBalance: 1000,
		StopLossPct:    1.5,
		TakeProfitPct:  3.0,
		PositionPct:    2.0,
		Leverage:       2,
		MaxPositions:   3,
		MinConfidence:  75,
		Interval:       "1h",
		SignalEvery:    4 * time.Hour,
		SnapshotEvery:  24 * time.Hour,
	}
}

type Option func(*Engine)

func WithRule(r EntryRule) Option { return func(e *Engine) { e.rule = r } }

func WithGate(g TradeGate) Option { return func(e *Engine) { e.gate = g } }

func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// Engine simulates the strategy over historical bars. Use a fresh Engine per
// run; it is not safe for concurrent use.
type Engine struct {
	cfg     Config
	source  mdservice.Source
	risk    *riskservice.Manager
	rule    EntryRule
	gate    TradeGate
	metrics *observability.Metrics

	balance   float64
	positions []*models.Position
	trades    []models.Trade
	daily     []DailyBalance
}

func NewEngine(cfg Config, source mdservice.Source, risk *riskservice.Manager, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.SignalEvery <= 0 {
		cfg.SignalEvery = def.SignalEvery
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = def.SnapshotEvery
	}
	if cfg.Interval == "" {
		cfg.Interval = def.Interval
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = def.MaxPositions
	}
	e := &Engine{
		cfg:    cfg,
		source: source,
		risk:   risk,
		rule:   MeanReversionRule{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type series struct {
	symbol string
	bars   []models.PriceBar
	cursor int
}

// Run simulates symbols over the last days of data. A data source failure
// fails the run; nothing is fabricated in its place.
func (e *Engine) Run(ctx context.Context, symbols []string, days int) (_ *Report, err error) {
	span, ctx := tracing.StartSpan(ctx, "backtest.Run")
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			tracing.Fail(span, err)
		}
		e.metrics.BacktestFinished(status, time.Since(started).Seconds(), len(e.trades))
		span.Finish()
	}()

	e.reset()
	logger.Info("backtest start: %d symbols, %d days, rule=%s, balance=%.2f",
		len(symbols), days, e.rule.Name(), e.cfg.InitialBalance)

	report := &Report{Symbols: symbols, Days: days, Rule: e.rule.Name()}
	if len(symbols) == 0 || days <= 0 {
		report.Results = e.results()
		return report, nil
	}

	all, err := e.load(ctx, symbols, days)
	if err != nil {
		return nil, err
	}

	for _, ts := range mergeTimestamps(all) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.step(ts, all)
	}

	report.Results = e.results()
	report.Trades = e.trades
	report.DailyBalances = e.daily
	for _, p := range e.positions {
		report.OpenPositions = append(report.OpenPositions, *p)
	}
	logger.Info("backtest done: final=%.2f return=%.2f%% trades=%d win_rate=%.1f%% max_dd=%.2f%%",
		report.Results.FinalBalance, report.Results.TotalReturnPct, report.Results.TotalTrades,
		report.Results.WinRate, report.Results.MaxDrawdownPct)
	return report, nil
}

func (e *Engine) reset() {
	e.balance = e.cfg.InitialBalance
	e.positions = nil
	e.trades = nil
	e.daily = nil
}

func (e *Engine) load(ctx context.Context, symbols []string, days int) ([]*series, error) {
	d, err := mdservice.IntervalDuration(e.cfg.Interval)
	if err != nil {
		return nil, err
	}
	count := int(time.Duration(days) * 24 * time.Hour / d)

	out := make([]*series, 0, len(symbols))
	for _, sym := range symbols {
		bars, err := e.source.GetBars(ctx, sym, e.cfg.Interval, count)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", sym, err)
		}
		if err := models.ValidateBars(bars); err != nil {
			return nil, fmt.Errorf("load %s: %w", sym, err)
		}
		out = append(out, &series{symbol: sym, bars: bars})
	}
	return out, nil
}

func mergeTimestamps(all []*series) []time.Time {
	seen := make(map[int64]time.Time)
	for _, s := range all {
		for _, b := range s.bars {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// step processes one simulated timestamp. current maps symbol to the index of
// its bar at ts.
func (e *Engine) step(ts time.Time, all []*series) {
	current := make(map[string]int, len(all))
	for _, s := range all {
		for s.cursor < len(s.bars) && s.bars[s.cursor].Timestamp.Before(ts) {
			s.cursor++
		}
		if s.cursor < len(s.bars) && s.bars[s.cursor].Timestamp.Equal(ts) {
			current[s.symbol] = s.cursor
		}
	}

	e.updatePositions(ts, all, current)

	if onBoundary(ts, e.cfg.SignalEvery) {
		e.checkNewSignals(ts, all, current)
	}
	if onBoundary(ts, e.cfg.SnapshotEvery) {
		e.daily = append(e.daily, DailyBalance{Timestamp: ts, Balance: e.totalValue()})
	}
}

func onBoundary(ts time.Time, every time.Duration) bool {
	return ts.Truncate(every).Equal(ts)
}

func (e *Engine) updatePositions(ts time.Time, all []*series, current map[string]int) {
	sl, tp := e.cfg.StopLossPct/100, e.cfg.TakeProfitPct/100
	kept := e.positions[:0]
	for _, p := range e.positions {
		idx, ok := current[p.Symbol]
		if !ok {
			kept = append(kept, p)
			continue
		}
		price := barAt(all, p.Symbol, idx).Close
		p.MarkToMarket(price)

		r := p.ReturnPct(price)
		switch {
		case r <= -sl:
			e.close(p, price, ts, models.ExitStopLoss)
		case r >= tp:
			e.close(p, price, ts, models.ExitTakeProfit)
		default:
			kept = append(kept, p)
		}
	}
	e.positions = kept
}

func (e *Engine) close(p *models.Position, price float64, ts time.Time, reason models.ExitReason) {
	tr := p.Close(price, ts, reason)
	e.balance += tr.PnL
	e.trades = append(e.trades, tr)
	logger.Debug("closed %s %s @ %.8f pnl=%.4f (%s)", p.Direction, p.Symbol, price, tr.PnL, reason)
}

func (e *Engine) checkNewSignals(ts time.Time, all []*series, current map[string]int) {
	if e.gate != nil && !e.gate.CanTrade() {
		return
	}
	for _, s := range all {
		if len(e.positions) >= e.cfg.MaxPositions {
			return
		}
		idx, ok := current[s.symbol]
		if !ok || e.hasPosition(s.symbol) {
			continue
		}
		if idx+1 < minHistoryBars {
			continue
		}

		sig, ok, err := e.evaluate(s.symbol, s.bars[:idx+1])
		if err != nil {
			logger.Warn("backtest signal %s at %s: %v", s.symbol, ts.Format(time.RFC3339), err)
			continue
		}
		if !ok || sig.Confidence < e.cfg.MinConfidence {
			continue
		}
		e.open(ts, sig)
	}
}

// evaluate isolates a faulty rule to the symbol it was evaluating.
func (e *Engine) evaluate(symbol string, history []models.PriceBar) (sig models.Signal, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", e.rule.Name(), r)
		}
	}()
	return e.rule.Evaluate(symbol, history)
}

func (e *Engine) open(ts time.Time, sig models.Signal) {
	entry := sig.EntryPrice
	if entry <= 0 || e.balance <= 0 {
		return
	}
	value := e.balance * e.cfg.PositionPct / 100
	slDist := entry * e.cfg.StopLossPct / 100
	tpDist := entry * e.cfg.TakeProfitPct / 100

	var stop, target float64
	switch sig.Direction {
	case models.Long:
		stop, target = entry-slDist, entry+tpDist
	case models.Short:
		stop, target = entry+slDist, entry-tpDist
	default:
		logger.Warn("backtest: signal %s has no direction", sig.Symbol)
		return
	}

	rr := 0.0
	if e.cfg.StopLossPct > 0 {
		rr = e.cfg.TakeProfitPct / e.cfg.StopLossPct
	}
	res := e.risk.ValidateTrade(riskservice.TradeParams{
		Leverage:        float64(e.cfg.Leverage),
		RiskPercent:     value * e.cfg.StopLossPct / e.balance,
		StopLoss:        &stop,
		PositionValue:   value,
		AccountBalance:  e.balance,
		RiskRewardRatio: rr,
	})
	e.metrics.Validation(res.Valid)
	if !res.Valid {
		return
	}

	id := fmt.Sprintf("%s_%s", sig.Symbol, ts.UTC().Format("20060102_1504"))
	p, err := models.NewPosition(id, sig.Symbol, sig.Direction, entry, ts,
		value/entry, stop, target, sig.Confidence, e.cfg.Leverage)
	if err != nil {
		logger.Warn("backtest: %v", err)
		return
	}
	e.positions = append(e.positions, p)
	logger.Debug("opened %s %s @ %.8f (%s)", p.Direction, p.Symbol, entry, sig.Reason)
}

func (e *Engine) hasPosition(symbol string) bool {
	for _, p := range e.positions {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

func (e *Engine) totalValue() float64 {
	total := e.balance
	for _, p := range e.positions {
		total += p.UnrealizedPnL
	}
	return total
}

func (e *Engine) results() Results {
	return computeResults(e.cfg.InitialBalance, e.balance, e.trades, e.daily)
}

func barAt(all []*series, symbol string, idx int) models.PriceBar {
	for _, s := range all {
		if s.symbol == symbol {
			return s.bars[idx]
		}
	}
	return models.PriceBar{}
}
