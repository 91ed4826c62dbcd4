package models

import "time"

// EmergencyState is owned by the emergency monitor and handed out by copy.
type EmergencyState struct {
	IsActive          bool      `json:"is_active"`
	ActivationReason  string    `json:"activation_reason,omitempty"`
	ActivationTime    time.Time `json:"activation_time"`
	Critical          bool      `json:"critical"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	DailyStartBalance float64   `json:"daily_start_balance"`
	MaxBalanceToday   float64   `json:"max_balance_today"`
	LastResetDate     time.Time `json:"last_reset_date"`
}

// EmergencyStatus is the summary exposed to the dashboard layer.
type EmergencyStatus struct {
	IsActive          bool       `json:"is_active"`
	ActivationReason  string     `json:"activation_reason,omitempty"`
	ActivationTime    *time.Time `json:"activation_time,omitempty"`
	Critical          bool       `json:"critical"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	DailyLossLimit    float64    `json:"daily_loss_limit"`
	MaxDrawdownLimit  float64    `json:"max_drawdown_limit"`
	DailyStartBalance float64    `json:"daily_start_balance"`
	MaxBalanceToday   float64    `json:"max_balance_today"`
	CanTrade          bool       `json:"can_trade"`
}
