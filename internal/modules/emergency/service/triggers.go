package service

import (
	"context"
	"fmt"
	"math"

	"conservative_bot/internal/models"
	"conservative_bot/pkg/logger"
)

type trigger struct {
	name  string
	check func(ctx context.Context, snap models.PortfolioSnapshot) (reason string, fired bool)
}

// triggers are evaluated in this order; the first to fire wins.
func (m *Monitor) triggers() []trigger {
	return []trigger{
		{"daily_loss", m.checkDailyLoss},
		{"drawdown", m.checkDrawdown},
		{"consecutive_losses", m.checkConsecutiveLosses},
		{"system_health", m.checkSystemHealth},
		{"balance_threshold", m.checkBalanceThreshold},
	}
}

// checkDailyLoss also opens the day on its first snapshot and tracks the
// day's peak balance.
func (m *Monitor) checkDailyLoss(_ context.Context, snap models.PortfolioSnapshot) (string, bool) {
	if m.state.DailyStartBalance == 0 {
		m.state.DailyStartBalance = snap.TotalBalance
		m.state.MaxBalanceToday = snap.TotalBalance
	}
	m.state.MaxBalanceToday = math.Max(m.state.MaxBalanceToday, snap.TotalBalance)

	if snap.DailyPnLPercent < -m.cfg.MaxDailyLossPercent {
		return fmt.Sprintf("Daily loss limit exceeded: %.2f%% (limit: %.1f%%)",
			snap.DailyPnLPercent, m.cfg.MaxDailyLossPercent), true
	}
	return "", false
}

func (m *Monitor) checkDrawdown(_ context.Context, snap models.PortfolioSnapshot) (string, bool) {
	peak := m.state.MaxBalanceToday
	if peak == 0 {
		return "", false
	}
	dd := (peak - snap.TotalBalance) / peak * 100
	if dd > m.cfg.MaxDrawdownPercent {
		return fmt.Sprintf("Maximum drawdown exceeded: %.2f%% (limit: %.1f%%)", dd, m.cfg.MaxDrawdownPercent), true
	}
	return "", false
}

func (m *Monitor) checkConsecutiveLosses(context.Context, models.PortfolioSnapshot) (string, bool) {
	if m.state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		return fmt.Sprintf("Consecutive losses limit exceeded: %d (limit: %d)",
			m.state.ConsecutiveLosses, m.cfg.MaxConsecutiveLosses), true
	}
	return "", false
}

// checkSystemHealth treats a probe error or panic as a failed health check.
func (m *Monitor) checkSystemHealth(ctx context.Context, _ models.PortfolioSnapshot) (reason string, fired bool) {
	if m.probe == nil {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("system health check panicked: %v", r)
			reason, fired = ReasonHealthFailed, true
		}
	}()

	ok, err := m.probe.TestConnection(ctx)
	if err != nil {
		logger.Error("system health check: %v", err)
		return ReasonHealthFailed, true
	}
	if !ok {
		return ReasonConnectionLost, true
	}
	return "", false
}

func (m *Monitor) checkBalanceThreshold(_ context.Context, snap models.PortfolioSnapshot) (string, bool) {
	start := m.state.DailyStartBalance
	if start <= 0 {
		return "", false
	}
	ratio := snap.TotalBalance / start
	if ratio*100 < m.cfg.CriticalBalancePercent {
		return fmt.Sprintf("Balance fell below critical threshold: %.1f%% of starting balance", ratio*100), true
	}
	return "", false
}
