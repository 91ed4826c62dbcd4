package service

import (
	"fmt"
	"math"

	"conservative_bot/internal/indicators"
	"conservative_bot/internal/models"
	riskservice "conservative_bot/internal/modules/risk/service"
	"conservative_bot/pkg/logger"
)

const (
	DefaultMinConfidence = 75.0
	DefaultMinBars       = 50

	baseConfidence   = 70.0
	confidencePerHit = 5.0
	maxConfidence    = 95.0
	minEntryScore    = 3
	bandEntryOffset  = 0.3
	maxSuggestedLev  = 3
)

type GeneratorConfig struct {
	MinConfidence float64
	MinBars       int
}

// Generator turns bar history into conservative entry proposals. It holds no
// per-symbol state, so one instance may serve concurrent callers.
type Generator struct {
	risk          *riskservice.Manager
	minConfidence float64
	minBars       int
}

func NewGenerator(risk *riskservice.Manager, cfg GeneratorConfig) *Generator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.MinBars < indicators.MinBars {
		cfg.MinBars = DefaultMinBars
	}
	return &Generator{
		risk:          risk,
		minConfidence: cfg.MinConfidence,
		minBars:       cfg.MinBars,
	}
}

// EntryScores counts the long and short confirmations met on the latest bar.
type EntryScores struct {
	Long  int
	Short int
}

// Generate returns a signal for symbol when conditions are favorable, one
// side has at least three confirmations and confidence clears the minimum.
func (g *Generator) Generate(symbol string, bars []models.PriceBar) (models.Signal, bool) {
	if len(bars) < g.minBars {
		logger.Debug("%s: insufficient data (%d bars)", symbol, len(bars))
		return models.Signal{}, false
	}
	set, ok := indicators.Calculate(bars)
	if !ok {
		return models.Signal{}, false
	}

	cond := analyze(bars, set)
	if !cond.OverallFavorable {
		logger.Debug("%s: market conditions not favorable (%d/4)", symbol, cond.Score())
		return models.Signal{}, false
	}

	sig, ok := g.entrySignal(symbol, bars, set)
	if !ok || sig.Confidence < g.minConfidence {
		return models.Signal{}, false
	}
	logger.Info("signal %s %s confidence=%.0f entry=%.8f sl=%.8f tp=%.8f",
		symbol, sig.Direction, sig.Confidence, sig.EntryPrice, sig.StopLoss, sig.TakeProfit)
	return sig, true
}

// Scores exposes the entry confirmation counts for the latest bar.
func Scores(bars []models.PriceBar, set indicators.Set) EntryScores {
	price := bars[len(bars)-1].Close
	rsi := set.Latest(indicators.KeyRSI)
	macd, macdSig := set.Latest(indicators.KeyMACD), set.Latest(indicators.KeyMACDSignal)
	ma20, ma50 := set.Latest(indicators.KeyMA20), set.Latest(indicators.KeyMA50)
	upper, lower := set.Latest(indicators.KeyBBUpper), set.Latest(indicators.KeyBBLower)
	width := upper - lower

	return EntryScores{
		Long: count(
			price > ma20 && ma20 > ma50,
			rsi > 40 && rsi < 70,
			macd > macdSig,
			price > lower+width*bandEntryOffset,
		),
		Short: count(
			price < ma20 && ma20 < ma50,
			rsi > 30 && rsi < 60,
			macd < macdSig,
			price < upper-width*bandEntryOffset,
		),
	}
}

func (g *Generator) entrySignal(symbol string, bars []models.PriceBar, set indicators.Set) (models.Signal, bool) {
	sc := Scores(bars, set)

	var dir models.Direction
	var score int
	switch {
	case sc.Long >= minEntryScore && sc.Short >= minEntryScore:
		logger.Debug("%s: conflicting entries long=%d short=%d", symbol, sc.Long, sc.Short)
		return models.Signal{}, false
	case sc.Long >= minEntryScore:
		dir, score = models.Long, sc.Long
	case sc.Short >= minEntryScore:
		dir, score = models.Short, sc.Short
	default:
		return models.Signal{}, false
	}

	last := bars[len(bars)-1]
	price := last.Close
	confidence := baseConfidence + confidencePerHit*float64(score)

	stop := g.risk.CalculateStopLoss(price, dir, set.Latest(indicators.KeyATR))
	limits := g.risk.Limits()

	return models.Signal{
		Symbol:            symbol,
		Direction:         dir,
		Confidence:        math.Min(confidence, maxConfidence),
		EntryPrice:        price,
		StopLoss:          stop,
		TakeProfit:        g.risk.CalculateTakeProfit(price, stop, dir),
		SuggestedLeverage: suggestedLeverage(confidence),
		RiskRewardRatio:   limits.MinRiskRewardRatio,
		Reason:            fmt.Sprintf("%d/4 %s confirmations", score, dir),
		Timestamp:         last.Timestamp,
	}, true
}

func suggestedLeverage(confidence float64) int {
	lev := int(confidence / 30)
	if lev < 1 {
		return 1
	}
	if lev > maxSuggestedLev {
		return maxSuggestedLev
	}
	return lev
}

func count(conds ...bool) int {
	n := 0
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}
