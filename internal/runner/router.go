package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"conservative_bot/internal/models"
	emergencyservice "conservative_bot/internal/modules/emergency/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/internal/notify"
	"conservative_bot/internal/observability"
	"conservative_bot/pkg/logger"
)

var (
	ErrRejected = errors.New("trade rejected by risk checks")
	ErrDeclined = errors.New("entry declined")
	ErrPending  = errors.New("signal for symbol already in flight")
)

type Gate interface {
	CanTrade() bool
}

// Book is where accepted entries are booked.
type Book interface {
	GetBalance(ctx context.Context) (float64, error)
	Open(ctx context.Context, sig models.Signal, size float64) (models.Position, error)
}

type Config struct {
	ConfirmEntries bool
	ConfirmTimeout time.Duration
}

// Router takes emitted signals through the emergency gate, sizing and risk
// validation, an optional operator confirmation and finally the book.
type Router struct {
	cfg      Config
	risk     *riskservice.Manager
	book     Book
	gate     Gate
	notifier notify.Notifier
	metrics  *observability.Metrics

	mu      sync.Mutex
	pending map[string]bool
}

func NewRouter(cfg Config, risk *riskservice.Manager, book Book, gate Gate,
	n notify.Notifier, m *observability.Metrics) *Router {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if n == nil {
		n = notify.NewStdout()
	}
	return &Router{
		cfg:      cfg,
		risk:     risk,
		book:     book,
		gate:     gate,
		notifier: n,
		metrics:  m,
		pending:  make(map[string]bool),
	}
}

// OnSignal handles one signal end to end and returns the booked position.
func (r *Router) OnSignal(ctx context.Context, sig models.Signal) (pos models.Position, err error) {
	defer func() {
		if err != nil {
			logger.Info("[ROUTER] %s %s skipped: %v", sig.Symbol, sig.Direction, err)
		}
	}()

	if r.gate != nil && !r.gate.CanTrade() {
		return pos, emergencyservice.ErrTradingHalted
	}
	if !r.setPending(sig.Symbol) {
		return pos, ErrPending
	}
	defer r.clearPending(sig.Symbol)

	balance, err := r.book.GetBalance(ctx)
	if err != nil {
		return pos, fmt.Errorf("get balance: %w", err)
	}

	params, err := r.calcTradeParams(sig, balance)
	if err != nil {
		return pos, fmt.Errorf("calc trade params: %w", err)
	}

	res := r.risk.ValidateTrade(params.Risk)
	r.metrics.Validation(res.Valid)
	if !res.Valid {
		return pos, fmt.Errorf("%w: %s", ErrRejected, strings.Join(res.Failed(), ","))
	}

	if r.cfg.ConfirmEntries {
		prompt := fmt.Sprintf("🔔 [%s] %s @ %.6f\nconfidence %.0f, %s\nSL %.6f TP %.6f size %.6f lev %dx\nEnter?",
			sig.Symbol, strings.ToUpper(string(sig.Direction)), sig.EntryPrice, sig.Confidence, sig.Reason,
			sig.StopLoss, sig.TakeProfit, params.Size, params.Leverage)
		if !r.notifier.Confirm(ctx, prompt, r.cfg.ConfirmTimeout) {
			r.notifier.Sendf("⛔️ [%s] entry declined or timed out", sig.Symbol)
			return pos, ErrDeclined
		}
	}

	pos, err = r.book.Open(ctx, sig, params.Size)
	if err != nil {
		return pos, fmt.Errorf("open: %w", err)
	}

	r.notifier.Sendf("✅ [%s] %s opened @ %.6f size %.6f (risk %.2f%%, value %.2f USDT)\nSL %.6f TP %.6f",
		pos.Symbol, strings.ToUpper(string(pos.Direction)), pos.EntryPrice, pos.Size, params.RiskPct, params.Value,
		pos.StopLoss, pos.TakeProfit)
	return pos, nil
}

func (r *Router) setPending(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[symbol] {
		return false
	}
	r.pending[symbol] = true
	return true
}

func (r *Router) clearPending(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, symbol)
}
