package service

import (
	"fmt"
	"math"

	"conservative_bot/internal/indicators"
	"conservative_bot/internal/models"
	strategyservice "conservative_bot/internal/modules/strategy/service"
)

// Rule names accepted by RuleByName.
const (
	RuleMeanReversion = "mean_reversion"
	RuleConservative  = "conservative"
)

// EntryRule proposes an entry from the history ending at the current bar.
// Confidence is on a 0-100 scale.
type EntryRule interface {
	Name() string
	Evaluate(symbol string, history []models.PriceBar) (models.Signal, bool, error)
}

const (
	oversoldRSI       = 35.0
	overboughtRSI     = 65.0
	bandProximity     = 0.02
	maxRuleConfidence = 80.0
)

// MeanReversionRule buys oversold closes near the lower Bollinger band and
// sells overbought closes near the upper band.
type MeanReversionRule struct{}

func (MeanReversionRule) Name() string { return RuleMeanReversion }

func (MeanReversionRule) Evaluate(symbol string, history []models.PriceBar) (models.Signal, bool, error) {
	if len(history) < indicators.DefaultBBPeriod {
		return models.Signal{}, false, fmt.Errorf("%s: %w (%d bars)", symbol, indicators.ErrInsufficientData, len(history))
	}
	closes := models.Closes(history)
	rsi := last(indicators.RSI(closes, indicators.DefaultRSIPeriod))
	upper, _, lower := indicators.Bollinger(closes, indicators.DefaultBBPeriod, indicators.DefaultBBStdDev)
	bar := history[len(history)-1]
	price := bar.Close

	sig := models.Signal{
		Symbol:     symbol,
		EntryPrice: price,
		Timestamp:  bar.Timestamp,
	}
	switch {
	case rsi < oversoldRSI && price <= last(lower)*(1+bandProximity):
		sig.Direction = models.Long
		sig.Confidence = math.Min(maxRuleConfidence, ((oversoldRSI-rsi)/35+0.5)*100)
		sig.Reason = "oversold_near_support"
	case rsi > overboughtRSI && price >= last(upper)*(1-bandProximity):
		sig.Direction = models.Short
		sig.Confidence = math.Min(maxRuleConfidence, ((rsi-overboughtRSI)/35+0.5)*100)
		sig.Reason = "overbought_near_resistance"
	default:
		return models.Signal{}, false, nil
	}
	return sig, true, nil
}

// ConservativeRule replays the live signal generator bar by bar.
type ConservativeRule struct {
	gen *strategyservice.Generator
}

func NewConservativeRule(gen *strategyservice.Generator) *ConservativeRule {
	return &ConservativeRule{gen: gen}
}

func (r *ConservativeRule) Name() string { return RuleConservative }

func (r *ConservativeRule) Evaluate(symbol string, history []models.PriceBar) (models.Signal, bool, error) {
	sig, ok := r.gen.Generate(symbol, history)
	return sig, ok, nil
}

// RuleByName resolves a configured rule. gen may be nil for mean_reversion.
func RuleByName(name string, gen *strategyservice.Generator) (EntryRule, error) {
	switch name {
	case "", RuleMeanReversion:
		return MeanReversionRule{}, nil
	case RuleConservative:
		if gen == nil {
			return nil, fmt.Errorf("rule %s needs a signal generator", name)
		}
		return NewConservativeRule(gen), nil
	default:
		return nil, fmt.Errorf("unknown entry rule %q", name)
	}
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return v[len(v)-1]
}
