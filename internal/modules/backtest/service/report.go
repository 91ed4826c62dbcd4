package service

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"conservative_bot/internal/models"
)

type Report struct {
	Symbols       []string          `json:"symbols"`
	Days          int               `json:"days"`
	Rule          string            `json:"rule"`
	Results       Results           `json:"results"`
	Trades        []models.Trade    `json:"trades"`
	DailyBalances []DailyBalance    `json:"daily_balances"`
	OpenPositions []models.Position `json:"open_positions"`
}

// Rounded returns the results rounded for display: money and percentages to
// cents, win rate to one decimal.
func (r Results) Rounded() Results {
	out := r
	out.InitialBalance = round(r.InitialBalance, 2)
	out.FinalBalance = round(r.FinalBalance, 2)
	out.TotalReturnPct = round(r.TotalReturnPct, 2)
	out.WinRate = round(r.WinRate, 1)
	out.MaxDrawdownPct = round(r.MaxDrawdownPct, 2)
	out.SharpeRatio = round(r.SharpeRatio, 2)
	out.AvgWin = round(r.AvgWin, 2)
	out.AvgLoss = round(r.AvgLoss, 2)
	out.LargestWin = round(r.LargestWin, 2)
	out.LargestLoss = round(r.LargestLoss, 2)
	return out
}

// ReplayBalance re-applies every trade's P&L to the initial balance in close
// order. It matches Results.FinalBalance exactly.
func (r *Report) ReplayBalance() float64 {
	b := r.Results.InitialBalance
	for _, t := range r.Trades {
		b += t.PnL
	}
	return b
}

// WriteText prints a human readable summary.
func (r *Report) WriteText(w io.Writer) error {
	res := r.Results.Rounded()
	_, err := fmt.Fprintf(w, `=== Conservative Strategy Backtest Results ===
Symbols:        %v
Days:           %d
Rule:           %s
Total Return:   %.2f%%
Win Rate:       %.1f%%
Max Drawdown:   %.2f%%
Sharpe Ratio:   %.2f
Total Trades:   %d (%d profitable)
Avg Win/Loss:   %.2f / %.2f
Largest W/L:    %.2f / %.2f
Final Balance:  $%s
Open Positions: %d
`,
		r.Symbols, r.Days, r.Rule,
		res.TotalReturnPct, res.WinRate, res.MaxDrawdownPct, res.SharpeRatio,
		res.TotalTrades, res.ProfitableTrades,
		res.AvgWin, res.AvgLoss, res.LargestWin, res.LargestLoss,
		decimal.NewFromFloat(r.Results.FinalBalance).StringFixed(2),
		len(r.OpenPositions))
	return err
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
