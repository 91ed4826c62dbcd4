package models

import "time"

// Trade is the immutable record of a closed position.
type Trade struct {
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	Size       float64    `json:"size"`
	PnL        float64    `json:"pnl"`
	PnLPercent float64    `json:"pnl_pct"`
	ExitReason ExitReason `json:"reason"`
	Confidence float64    `json:"confidence"`
}

func (t Trade) Profitable() bool { return t.PnL > 0 }
