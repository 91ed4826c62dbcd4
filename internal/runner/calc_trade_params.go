package runner

import (
	"fmt"
	"math"

	"conservative_bot/internal/models"
	riskservice "conservative_bot/internal/modules/risk/service"
)

// TradeParams is a sized entry ready for validation.
type TradeParams struct {
	Size     float64
	Value    float64
	RiskPct  float64
	RiskDist float64
	Leverage int
	Risk     riskservice.TradeParams
}

// calcTradeParams sizes sig against balance with the per-trade risk budget
// and builds the risk manager's view of the trade.
func (r *Router) calcTradeParams(sig models.Signal, balance float64) (*TradeParams, error) {
	if balance <= 0 {
		return nil, fmt.Errorf("balance %.2f <= 0", balance)
	}
	if sig.EntryPrice <= 0 {
		return nil, fmt.Errorf("entry <= 0")
	}

	limits := r.risk.Limits()
	size := r.risk.CalculatePositionSize(balance, limits.MaxRiskPercentPerTrade, sig.EntryPrice, sig.StopLoss)
	if size <= 0 {
		return nil, fmt.Errorf("size <= 0 for entry %.6f stop %.6f", sig.EntryPrice, sig.StopLoss)
	}

	riskDist := math.Abs(sig.EntryPrice - sig.StopLoss)
	lev := sig.SuggestedLeverage
	if lev <= 0 {
		lev = 1
	}
	value := size * sig.EntryPrice
	riskPct := riskDist * size / balance * 100

	stop := sig.StopLoss
	return &TradeParams{
		Size:     size,
		Value:    value,
		RiskPct:  riskPct,
		RiskDist: riskDist,
		Leverage: lev,
		Risk: riskservice.TradeParams{
			Leverage:        float64(lev),
			RiskPercent:     riskPct,
			StopLoss:        &stop,
			PositionValue:   value,
			AccountBalance:  balance,
			RiskRewardRatio: sig.RiskRewardRatio,
		},
	}, nil
}
