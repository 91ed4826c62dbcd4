package models

import "time"

// PortfolioSnapshot is what the emergency monitor evaluates.
type PortfolioSnapshot struct {
	TotalBalance     float64    `json:"total_balance"`
	DailyPnL         float64    `json:"daily_pnl"`
	DailyPnLPercent  float64    `json:"daily_pnl_percent"`
	TotalRiskPercent float64    `json:"total_risk_percent"`
	ActivePositions  int        `json:"active_positions"`
	DailyTrades      int        `json:"daily_trades"`
	Positions        []Position `json:"positions"`
	Suggestions      []string   `json:"suggestions"`
	Timestamp        time.Time  `json:"timestamp"`
}
