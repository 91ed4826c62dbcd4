package service

import (
	"math"
	"strings"

	"conservative_bot/internal/models"
	"conservative_bot/pkg/logger"
)

const (
	stopATRMultiplier   = 2.0
	fallbackStopPercent = 0.02
	maxStopPercent      = 0.05

	// absorbs rounding when a computed size is re-priced against a limit
	percentTolerance = 1e-9
)

// Check names reported in ValidationResult.
const (
	CheckLeverageSafe       = "leverage_safe"
	CheckRiskAcceptable     = "risk_acceptable"
	CheckStopLossSet        = "stop_loss_set"
	CheckPositionSizeSafe   = "position_size_safe"
	CheckRiskRewardAdequate = "risk_reward_adequate"
)

// TradeParams is a proposed trade as seen by the risk manager. A nil
// StopLoss means no stop was set.
type TradeParams struct {
	Leverage        float64
	RiskPercent     float64
	StopLoss        *float64
	PositionValue   float64
	AccountBalance  float64
	RiskRewardRatio float64
}

type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Checks []CheckResult `json:"checks"`
}

// Failed lists the names of checks that did not pass, in evaluation order.
func (r ValidationResult) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

func (r ValidationResult) Passed(name string) bool {
	for _, c := range r.Checks {
		if c.Name == name {
			return c.Passed
		}
	}
	return false
}

// Manager is a stateless rule checker over RiskLimits. Safe for concurrent use.
type Manager struct {
	limits models.RiskLimits
}

func NewManager(limits models.RiskLimits) *Manager {
	logger.Info("risk manager: max_risk=%.2f%% max_leverage=%.0fx max_daily_loss=%.2f%%",
		limits.MaxRiskPercentPerTrade, limits.MaxLeverage, limits.MaxDailyLossPercent)
	return &Manager{limits: limits}
}

func (m *Manager) Limits() models.RiskLimits { return m.limits }

// ValidateTrade runs every check; the trade is valid only when all pass.
func (m *Manager) ValidateTrade(p TradeParams) ValidationResult {
	checks := []CheckResult{
		{CheckLeverageSafe, p.Leverage <= m.limits.MaxLeverage},
		{CheckRiskAcceptable, p.RiskPercent <= m.limits.MaxRiskPercentPerTrade+percentTolerance},
		{CheckStopLossSet, p.StopLoss != nil && !math.IsNaN(*p.StopLoss)},
		{CheckPositionSizeSafe, m.positionSizeSafe(p.PositionValue, p.AccountBalance)},
		{CheckRiskRewardAdequate, p.RiskRewardRatio >= m.limits.MinRiskRewardRatio},
	}

	res := ValidationResult{Valid: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			res.Valid = false
		}
	}
	if !res.Valid {
		logger.Warn("trade validation failed: %s", strings.Join(res.Failed(), ","))
	}
	return res
}

func (m *Manager) positionSizeSafe(value, balance float64) bool {
	if balance <= 0 {
		return false
	}
	return value/balance*100 <= m.limits.MaxPositionPercent+percentTolerance
}

// CalculatePositionSize sizes a position in units so that hitting the stop
// loses at most riskPercent of balance, capped by the per-position notional
// limit. It returns 0 when entry or stop is not usable.
func (m *Manager) CalculatePositionSize(balance, riskPercent, entry, stop float64) float64 {
	if entry <= 0 || stop <= 0 || balance <= 0 {
		return 0
	}
	diff := math.Abs(entry - stop)
	if diff == 0 {
		return 0
	}

	riskAmount := balance * math.Min(riskPercent, m.limits.MaxRiskPercentPerTrade) / 100
	size := riskAmount / diff

	maxValue := balance * m.limits.MaxPositionPercent / 100
	if size*entry > maxValue {
		size = maxValue / entry
	}
	logger.Debug("position size %.8f for risk %.2f%%", size, riskPercent)
	return size
}

// CalculateStopLoss puts the stop 2 ATR away from entry, never further than
// 5%. Without a usable ATR the stop is 2% away.
func (m *Manager) CalculateStopLoss(entry float64, dir models.Direction, atr float64) float64 {
	if atr <= 0 || math.IsNaN(atr) || entry <= 0 {
		switch dir {
		case models.Long:
			return entry * (1 - fallbackStopPercent)
		case models.Short:
			return entry * (1 + fallbackStopPercent)
		}
	}

	maxDist := entry * maxStopPercent
	dist := math.Min(stopATRMultiplier*atr, maxDist)
	switch dir {
	case models.Long:
		return entry - dist
	case models.Short:
		return entry + dist
	default:
		panic("invalid direction " + string(dir))
	}
}

// CalculateTakeProfit places the target at MinRiskRewardRatio times the stop distance.
func (m *Manager) CalculateTakeProfit(entry, stop float64, dir models.Direction) float64 {
	dist := math.Abs(entry-stop) * m.limits.MinRiskRewardRatio
	switch dir {
	case models.Long:
		return entry + dist
	case models.Short:
		return entry - dist
	default:
		panic("invalid direction " + string(dir))
	}
}

// CheckDailyLossLimit reports true when the day's loss is past the limit.
func (m *Manager) CheckDailyLossLimit(dailyPnLPercent float64) bool {
	if dailyPnLPercent < -m.limits.MaxDailyLossPercent {
		logger.Warn("daily loss limit exceeded: %.2f%% vs limit %.2f%%",
			dailyPnLPercent, m.limits.MaxDailyLossPercent)
		return true
	}
	return false
}

func (m *Manager) MaxSimultaneousPositions() int { return m.limits.MaxSimultaneousPositions }

func (m *Manager) MaxDailyTrades() int { return m.limits.MaxDailyTrades }
