package service

import (
	"context"
	"errors"
	"fmt"

	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	strategyservice "conservative_bot/internal/modules/strategy/service"
)

// MaxDays bounds an on-demand run.
const MaxDays = 365

var ErrInvalidRequest = errors.New("invalid backtest request")

// Request describes one run. A preset fills symbols, days and balance; the
// explicit fields override it.
type Request struct {
	Preset         string   `json:"preset,omitempty" mapstructure:"preset"`
	Symbols        []string `json:"symbols,omitempty" mapstructure:"symbols"`
	Days           int      `json:"days,omitempty" mapstructure:"days"`
	InitialBalance float64  `json:"initial_balance,omitempty" mapstructure:"initial_balance"`
	Rule           string   `json:"rule,omitempty" mapstructure:"rule"`
}

// Runner builds a fresh Engine for every request, so runs never share state.
type Runner struct {
	base        Config
	defaultRule string
	source      mdservice.Source
	risk        *riskservice.Manager
	gen         *strategyservice.Generator
	opts        []Option
}

func NewRunner(base Config, defaultRule string, source mdservice.Source, risk *riskservice.Manager,
	gen *strategyservice.Generator, opts ...Option) *Runner {
	return &Runner{
		base:        base,
		defaultRule: defaultRule,
		source:      source,
		risk:        risk,
		gen:         gen,
		opts:        opts,
	}
}

// Resolve applies the preset and defaults and validates the result.
func (r *Runner) Resolve(req Request) (Request, error) {
	out := req
	if req.Preset != "" {
		p, err := PresetByName(req.Preset)
		if err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if len(out.Symbols) == 0 {
			out.Symbols = p.Symbols
		}
		if out.Days == 0 {
			out.Days = p.Days
		}
		if out.InitialBalance == 0 {
			out.InitialBalance = p.InitialBalance
		}
	}
	if out.InitialBalance == 0 {
		out.InitialBalance = r.base.InitialBalance
	}
	if out.Rule == "" {
		out.Rule = r.defaultRule
	}

	switch {
	case len(out.Symbols) == 0:
		return Request{}, fmt.Errorf("%w: no symbols", ErrInvalidRequest)
	case out.Days <= 0 || out.Days > MaxDays:
		return Request{}, fmt.Errorf("%w: days %d not in 1..%d", ErrInvalidRequest, out.Days, MaxDays)
	case out.InitialBalance <= 0:
		return Request{}, fmt.Errorf("%w: initial balance %.2f", ErrInvalidRequest, out.InitialBalance)
	}
	return out, nil
}

func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	req, err := r.Resolve(req)
	if err != nil {
		return nil, err
	}
	rule, err := RuleByName(req.Rule, r.gen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	cfg := r.base
	cfg.InitialBalance = req.InitialBalance
	opts := append(append([]Option(nil), r.opts...), WithRule(rule))
	return NewEngine(cfg, r.source, r.risk, opts...).Run(ctx, req.Symbols, req.Days)
}
