package models

import "fmt"

// RiskLimits are the conservative limits shared by the risk manager and the
// emergency monitor. Read-only after construction.
type RiskLimits struct {
	MaxRiskPercentPerTrade   float64 `yaml:"max_risk_percent_per_trade" json:"max_risk_percent_per_trade"`
	MaxLeverage              float64 `yaml:"max_leverage" json:"max_leverage"`
	MaxDailyLossPercent      float64 `yaml:"max_daily_loss_percent" json:"max_daily_loss_percent"`
	MaxDrawdownPercent       float64 `yaml:"max_drawdown_percent" json:"max_drawdown_percent"`
	MaxSimultaneousPositions int     `yaml:"max_simultaneous_positions" json:"max_simultaneous_positions"`
	MaxDailyTrades           int     `yaml:"max_daily_trades" json:"max_daily_trades"`
	MinRiskRewardRatio       float64 `yaml:"min_risk_reward_ratio" json:"min_risk_reward_ratio"`
	MaxPositionPercent       float64 `yaml:"max_position_percent" json:"max_position_percent"`
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxRiskPercentPerTrade:   1.5,
		MaxLeverage:              5,
		MaxDailyLossPercent:      3.0,
		MaxDrawdownPercent:       10.0,
		MaxSimultaneousPositions: 3,
		MaxDailyTrades:           3,
		MinRiskRewardRatio:       2.0,
		MaxPositionPercent:       20.0,
	}
}

func (l RiskLimits) Validate() error {
	switch {
	case l.MaxRiskPercentPerTrade <= 0:
		return fmt.Errorf("max_risk_percent_per_trade must be > 0")
	case l.MaxLeverage < 1:
		return fmt.Errorf("max_leverage must be >= 1")
	case l.MaxDailyLossPercent <= 0:
		return fmt.Errorf("max_daily_loss_percent must be > 0")
	case l.MaxDrawdownPercent <= 0:
		return fmt.Errorf("max_drawdown_percent must be > 0")
	case l.MaxSimultaneousPositions <= 0:
		return fmt.Errorf("max_simultaneous_positions must be > 0")
	case l.MinRiskRewardRatio <= 0:
		return fmt.Errorf("min_risk_reward_ratio must be > 0")
	case l.MaxPositionPercent <= 0 || l.MaxPositionPercent > 100:
		return fmt.Errorf("max_position_percent must be in (0, 100]")
	}
	return nil
}
