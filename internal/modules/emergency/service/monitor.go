package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"conservative_bot/internal/models"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
	"conservative_bot/pkg/tracing"
)

// Activation reasons that need a manual override to reset.
const (
	ReasonConnectionLost = "API connection lost"
	ReasonHealthFailed   = "System health check failed"
	ReasonTriggerFault   = "System error during trigger check"
)

var (
	ErrTradingHalted          = errors.New("trading halted by emergency stop")
	ErrManualOverrideRequired = errors.New("manual override required to reset emergency stop for critical failures")
)

// Broker is the account side the monitor flattens on activation.
type Broker interface {
	GetPositions(ctx context.Context) ([]models.Position, error)
	ClosePosition(ctx context.Context, symbol, id string) error
	CancelAllOrders(ctx context.Context) error
}

// Resumer is implemented by brokers that latch new entries off on
// CancelAllOrders and need Reset to lift the latch.
type Resumer interface {
	ResumeTrading()
}

// ConnectivityProbe reports whether the exchange link is usable. An error
// means the probe itself could not run.
type ConnectivityProbe interface {
	TestConnection(ctx context.Context) (bool, error)
}

type Notifier interface {
	Send(msg string)
}

type Config struct {
	MaxDailyLossPercent    float64
	MaxDrawdownPercent     float64
	MaxConsecutiveLosses   int
	CriticalBalancePercent float64
}

func DefaultConfig() Config {
	limits := models.DefaultRiskLimits()
	return Config{
		MaxDailyLossPercent:    limits.MaxDailyLossPercent,
		MaxDrawdownPercent:     limits.MaxDrawdownPercent,
		MaxConsecutiveLosses:   5,
		CriticalBalancePercent: 50,
	}
}

// ActivationReport describes what an activation did.
type ActivationReport struct {
	Activated       bool      `json:"activated"`
	Reason          string    `json:"reason"`
	Critical        bool      `json:"critical"`
	Time            time.Time `json:"time"`
	ClosedPositions []string  `json:"closed_positions,omitempty"`
	FailedPositions []string  `json:"failed_positions,omitempty"`
	OrdersCancelled bool      `json:"orders_cancelled"`
	Errors          []string  `json:"errors,omitempty"`
}

type Option func(*Monitor)

// WithState seeds the monitor, e.g. after a restart.
func WithState(s models.EmergencyState) Option { return func(m *Monitor) { m.state = s } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func WithProbe(p ConnectivityProbe) Option { return func(m *Monitor) { m.probe = p } }

func WithBroker(b Broker) Option { return func(m *Monitor) { m.broker = b } }

func WithNotifier(n Notifier) Option { return func(m *Monitor) { m.notifier = n } }

func WithMetrics(mt *observability.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

// Monitor is the process-wide emergency stop. Every method serializes on one
// mutex, including the side effects of an activation.
type Monitor struct {
	cfg      Config
	probe    ConnectivityProbe
	broker   Broker
	notifier Notifier
	metrics  *observability.Metrics
	now      func() time.Time

	mu             sync.Mutex
	state          models.EmergencyState
	lastActivation *ActivationReport
}

func NewMonitor(cfg Config, opts ...Option) *Monitor {
	m := &Monitor{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	if m.state.LastResetDate.IsZero() {
		m.state.LastResetDate = day(m.now())
	}
	logger.Info("emergency stop initialized: daily_loss=%.1f%% drawdown=%.1f%% consecutive_losses=%d",
		cfg.MaxDailyLossPercent, cfg.MaxDrawdownPercent, cfg.MaxConsecutiveLosses)
	return m
}

// CheckAllTriggers evaluates the triggers in order against snap and activates
// on the first that fires. It returns true while the stop is active. A panic
// inside any trigger activates the stop.
func (m *Monitor) CheckAllTriggers(ctx context.Context, snap models.PortfolioSnapshot) (halted bool) {
	span, ctx := tracing.StartSpan(ctx, "emergency.CheckAllTriggers")
	defer span.Finish()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.TriggerChecked()

	if m.state.IsActive {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("error checking emergency triggers: %v", r)
			tracing.Fail(span, fmt.Errorf("trigger panic: %v", r))
			m.activateLocked(ctx, "trigger_fault", ReasonTriggerFault)
			halted = true
		}
	}()

	m.resetDailyCounters()

	if !validSnapshot(snap) {
		logger.Error("unusable portfolio snapshot: balance=%v daily_pnl=%v", snap.TotalBalance, snap.DailyPnLPercent)
		m.activateLocked(ctx, "trigger_fault", ReasonTriggerFault)
		return true
	}

	for _, t := range m.triggers() {
		if reason, fired := t.check(ctx, snap); fired {
			span.SetTag("trigger", t.name)
			m.activateLocked(ctx, t.name, reason)
			return true
		}
	}
	return false
}

// Activate halts trading. A second activation keeps the first reason.
func (m *Monitor) Activate(ctx context.Context, reason string) ActivationReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activateLocked(ctx, "manual", reason)
}

func (m *Monitor) activateLocked(ctx context.Context, trigger, reason string) ActivationReport {
	if m.state.IsActive {
		return ActivationReport{Reason: m.state.ActivationReason, Critical: m.state.Critical, Time: m.state.ActivationTime}
	}

	now := m.now()
	m.state.IsActive = true
	m.state.ActivationReason = reason
	m.state.ActivationTime = now
	m.state.Critical = isCritical(reason)
	m.metrics.EmergencyActivated(trigger)

	logger.Error("EMERGENCY STOP ACTIVATED: %s", reason)

	rep := ActivationReport{Activated: true, Reason: reason, Critical: m.state.Critical, Time: now}
	m.cancelAllOrders(ctx, &rep)
	m.closeAllPositions(ctx, &rep)
	m.sendAlert(rep)

	m.lastActivation = &rep
	return rep
}

func (m *Monitor) closeAllPositions(ctx context.Context, rep *ActivationReport) {
	if m.broker == nil {
		return
	}
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		logger.Error("emergency: get positions: %v", err)
		rep.Errors = append(rep.Errors, fmt.Sprintf("get positions: %v", err))
		return
	}
	for _, p := range positions {
		logger.Warn("emergency closing position: %s", p.Symbol)
		if err := m.broker.ClosePosition(ctx, p.Symbol, p.ID); err != nil {
			logger.Error("failed to close position %s: %v", p.Symbol, err)
			rep.FailedPositions = append(rep.FailedPositions, p.Symbol)
			rep.Errors = append(rep.Errors, fmt.Sprintf("close %s: %v", p.Symbol, err))
			continue
		}
		rep.ClosedPositions = append(rep.ClosedPositions, p.Symbol)
	}
}

func (m *Monitor) cancelAllOrders(ctx context.Context, rep *ActivationReport) {
	if m.broker == nil {
		return
	}
	logger.Info("cancelling all pending orders")
	if err := m.broker.CancelAllOrders(ctx); err != nil {
		logger.Error("emergency: cancel orders: %v", err)
		rep.Errors = append(rep.Errors, fmt.Sprintf("cancel orders: %v", err))
		return
	}
	rep.OrdersCancelled = true
}

func (m *Monitor) sendAlert(rep ActivationReport) {
	if m.notifier == nil {
		return
	}
	m.notifier.Send(fmt.Sprintf("🚨 EMERGENCY STOP ACTIVATED\nReason: %s\nTime: %s\nClosed positions: %d\nTrading halted",
		rep.Reason, rep.Time.UTC().Format("2006-01-02 15:04:05"), len(rep.ClosedPositions)))
}

// Reset clears an active stop. Critical activations need manualOverride.
func (m *Monitor) Reset(manualOverride bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsActive {
		return nil
	}
	if m.state.Critical && !manualOverride {
		logger.Warn("manual override required to reset emergency stop (%s)", m.state.ActivationReason)
		return ErrManualOverrideRequired
	}

	prev := m.state.ActivationReason
	duration := m.now().Sub(m.state.ActivationTime)
	m.state.IsActive = false
	m.state.ActivationReason = ""
	m.state.Critical = false
	m.metrics.EmergencyReset()
	if r, ok := m.broker.(Resumer); ok {
		r.ResumeTrading()
	}

	logger.Info("emergency stop reset after %s, previous reason: %s", duration, prev)
	if m.notifier != nil {
		m.notifier.Send(fmt.Sprintf("✅ EMERGENCY STOP RESET\nDuration: %s\nPrevious reason: %s\nTrading can resume",
			duration.Round(time.Second), prev))
	}
	return nil
}

// RecordTradeResult feeds the consecutive loss counter.
func (m *Monitor) RecordTradeResult(profitable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if profitable {
		m.state.ConsecutiveLosses = 0
		return
	}
	m.state.ConsecutiveLosses++
	logger.Debug("consecutive losses: %d", m.state.ConsecutiveLosses)
}

func (m *Monitor) CanTrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.state.IsActive
}

// State returns a copy of the current state.
func (m *Monitor) State() models.EmergencyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) LastActivation() *ActivationReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastActivation == nil {
		return nil
	}
	rep := *m.lastActivation
	return &rep
}

func (m *Monitor) Status() models.EmergencyStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.EmergencyStatus{
		IsActive:          m.state.IsActive,
		ActivationReason:  m.state.ActivationReason,
		Critical:          m.state.Critical,
		ConsecutiveLosses: m.state.ConsecutiveLosses,
		DailyLossLimit:    m.cfg.MaxDailyLossPercent,
		MaxDrawdownLimit:  m.cfg.MaxDrawdownPercent,
		DailyStartBalance: m.state.DailyStartBalance,
		MaxBalanceToday:   m.state.MaxBalanceToday,
		CanTrade:          !m.state.IsActive,
	}
	if !m.state.ActivationTime.IsZero() {
		t := m.state.ActivationTime
		st.ActivationTime = &t
	}
	return st
}

func (m *Monitor) resetDailyCounters() {
	today := day(m.now())
	if today.Equal(m.state.LastResetDate) {
		return
	}
	m.state.DailyStartBalance = 0
	m.state.MaxBalanceToday = 0
	m.state.LastResetDate = today
	logger.Info("daily counters reset for new trading day")
}

func validSnapshot(s models.PortfolioSnapshot) bool {
	for _, v := range []float64{s.TotalBalance, s.DailyPnL, s.DailyPnLPercent} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func isCritical(reason string) bool {
	return reason == ReasonConnectionLost || reason == ReasonHealthFailed
}

func day(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
