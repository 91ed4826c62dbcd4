package service

import (
	"math"
	"time"

	"conservative_bot/internal/models"
)

type DailyBalance struct {
	Timestamp time.Time `json:"timestamp"`
	Balance   float64   `json:"balance"`
}

type Results struct {
	InitialBalance   float64 `json:"initial_balance"`
	FinalBalance     float64 `json:"final_balance"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	WinRate          float64 `json:"win_rate"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	TotalTrades      int     `json:"total_trades"`
	ProfitableTrades int     `json:"profitable_trades"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	LargestWin       float64 `json:"largest_win"`
	LargestLoss      float64 `json:"largest_loss"`
}

func computeResults(initial, final float64, trades []models.Trade, daily []DailyBalance) Results {
	r := Results{
		InitialBalance: initial,
		FinalBalance:   final,
		TotalTrades:    len(trades),
	}
	if initial != 0 {
		r.TotalReturnPct = (final - initial) / initial * 100
	}

	var wins, losses []float64
	for _, t := range trades {
		if t.Profitable() {
			wins = append(wins, t.PnL)
		} else {
			losses = append(losses, t.PnL)
		}
	}
	r.ProfitableTrades = len(wins)
	if len(trades) > 0 {
		r.WinRate = float64(len(wins)) / float64(len(trades)) * 100
	}
	if len(wins) > 0 {
		r.AvgWin = meanOf(wins)
		r.LargestWin = maxOf(wins)
	}
	if len(losses) > 0 {
		r.AvgLoss = meanOf(losses)
		r.LargestLoss = minOf(losses)
	}

	balances := make([]float64, len(daily))
	for i, d := range daily {
		balances[i] = d.Balance
	}
	r.MaxDrawdownPct = maxDrawdownPct(balances)
	r.SharpeRatio = sharpe(balances)
	return r
}

// maxDrawdownPct is the largest peak-to-trough drop in percent of the peak.
func maxDrawdownPct(balances []float64) float64 {
	if len(balances) == 0 {
		return 0
	}
	peak, maxDD := balances[0], 0.0
	for _, b := range balances {
		if b > peak {
			peak = b
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-b)/peak*100)
		}
	}
	return maxDD
}

// sharpe annualizes mean over population stdev of daily returns by sqrt(365).
func sharpe(balances []float64) float64 {
	if len(balances) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(balances)-1)
	for i := 1; i < len(balances); i++ {
		prev := balances[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (balances[i]-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	m := meanOf(returns)
	sd := popStd(returns, m)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(365)
}

func meanOf(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func popStd(v []float64, mean float64) float64 {
	ss := 0.0
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(v)))
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		m = math.Max(m, x)
	}
	return m
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		m = math.Min(m, x)
	}
	return m
}
