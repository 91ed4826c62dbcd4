package models

import (
	"fmt"
	"time"
)

// Direction is the side of a futures position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Long:
		return Long, nil
	case Short:
		return Short, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

func (d Direction) Valid() bool { return d == Long || d == Short }

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		panic(fmt.Sprintf("invalid direction %q", string(d)))
	}
}

// PnL of size units moved from entry to exit.
func (d Direction) PnL(entry, exit, size float64) float64 {
	switch d {
	case Long:
		return (exit - entry) * size
	case Short:
		return (entry - exit) * size
	default:
		panic(fmt.Sprintf("invalid direction %q", string(d)))
	}
}

// ReturnPct is the fractional price move in favour of the position.
func (d Direction) ReturnPct(entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	switch d {
	case Long:
		return (price - entry) / entry
	case Short:
		return (entry - price) / entry
	default:
		panic(fmt.Sprintf("invalid direction %q", string(d)))
	}
}

// StopHit reports whether price has crossed stop against the position.
func (d Direction) StopHit(price, stop float64) bool {
	switch d {
	case Long:
		return price <= stop
	case Short:
		return price >= stop
	default:
		panic(fmt.Sprintf("invalid direction %q", string(d)))
	}
}

// TargetHit reports whether price has reached target in favour of the position.
func (d Direction) TargetHit(price, target float64) bool {
	switch d {
	case Long:
		return price >= target
	case Short:
		return price <= target
	default:
		panic(fmt.Sprintf("invalid direction %q", string(d)))
	}
}

// Signal is an emitted trade proposal. Treat as a value; it is never mutated.
type Signal struct {
	Symbol            string    `json:"symbol"`
	Direction         Direction `json:"direction"`
	Confidence        float64   `json:"confidence"`
	EntryPrice        float64   `json:"entry_price"`
	StopLoss          float64   `json:"stop_loss"`
	TakeProfit        float64   `json:"take_profit"`
	SuggestedLeverage int       `json:"suggested_leverage"`
	RiskRewardRatio   float64   `json:"risk_reward_ratio"`
	Reason            string    `json:"reason,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
