package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrNoStopLoss = errors.New("position requires a stop loss")

// ExitReason says why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEmergency  ExitReason = "emergency"
	ExitManual     ExitReason = "manual"
)

type Position struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	EntryPrice    float64   `json:"entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	Size          float64   `json:"size"`
	NotionalValue float64   `json:"notional_value"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	Confidence    float64   `json:"confidence"`
	Leverage      int       `json:"leverage"`

	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// NewPosition builds an open position. A stop loss is mandatory.
func NewPosition(id, symbol string, dir Direction, entry float64, at time.Time,
	size, stop, target, confidence float64, leverage int) (*Position, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("position %s: invalid direction %q", id, dir)
	}
	if stop <= 0 || math.IsNaN(stop) || stop == entry {
		return nil, fmt.Errorf("position %s: %w", id, ErrNoStopLoss)
	}
	if entry <= 0 || size <= 0 {
		return nil, fmt.Errorf("position %s: entry %.8f size %.8f must be positive", id, entry, size)
	}
	return &Position{
		ID:            id,
		Symbol:        symbol,
		Direction:     dir,
		EntryPrice:    entry,
		EntryTime:     at,
		Size:          size,
		NotionalValue: entry * size,
		StopLoss:      stop,
		TakeProfit:    target,
		Confidence:    confidence,
		Leverage:      leverage,
		CurrentPrice:  entry,
	}, nil
}

// MarkToMarket updates unrealized P&L at price.
func (p *Position) MarkToMarket(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.Direction.PnL(p.EntryPrice, price, p.Size)
}

// ReturnPct is the fractional move in favour of the position at price.
func (p *Position) ReturnPct(price float64) float64 {
	return p.Direction.ReturnPct(p.EntryPrice, price)
}

// RiskAmount is what the position loses if the stop fills.
func (p *Position) RiskAmount() float64 {
	return math.Abs(p.EntryPrice-p.StopLoss) * p.Size
}

// Close converts the position into a Trade.
func (p *Position) Close(exit float64, at time.Time, reason ExitReason) Trade {
	pnl := p.Direction.PnL(p.EntryPrice, exit, p.Size)
	pnlPct := 0.0
	if p.NotionalValue > 0 {
		pnlPct = pnl / p.NotionalValue * 100
	}
	return Trade{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exit,
		EntryTime:  p.EntryTime,
		ExitTime:   at,
		Size:       p.Size,
		PnL:        pnl,
		PnLPercent: pnlPct,
		ExitReason: reason,
		Confidence: p.Confidence,
	}
}
