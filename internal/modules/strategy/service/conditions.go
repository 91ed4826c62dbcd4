package service

import (
	"math"

	"conservative_bot/internal/indicators"
	"conservative_bot/internal/models"
)

const (
	trendPriceGap     = 0.02
	trendMAGap        = 0.01
	maxATRPercent     = 5.0
	maxATRExpansion   = 2.0
	volumeWindow      = 20
	minVolumeRatio    = 0.5
	bandEdgeFraction  = 0.2
	minFavorableScore = 3
)

// MarketConditions is the four-way suitability screen run before entries.
type MarketConditions struct {
	TrendClear           bool `json:"trend_clear"`
	VolatilityManageable bool `json:"volatility_manageable"`
	VolumeAdequate       bool `json:"volume_adequate"`
	RiskRewardFavorable  bool `json:"risk_reward_favorable"`
	OverallFavorable     bool `json:"overall_favorable"`
}

func (c MarketConditions) Score() int {
	n := 0
	for _, ok := range []bool{c.TrendClear, c.VolatilityManageable, c.VolumeAdequate, c.RiskRewardFavorable} {
		if ok {
			n++
		}
	}
	return n
}

// AnalyzeMarketConditions screens the latest bar. Short history is never favorable.
func (g *Generator) AnalyzeMarketConditions(bars []models.PriceBar) MarketConditions {
	if len(bars) < g.minBars {
		return MarketConditions{}
	}
	set, ok := indicators.Calculate(bars)
	if !ok {
		return MarketConditions{}
	}
	return analyze(bars, set)
}

func analyze(bars []models.PriceBar, set indicators.Set) MarketConditions {
	c := MarketConditions{
		TrendClear:           trendClear(bars, set),
		VolatilityManageable: volatilityManageable(bars, set),
		VolumeAdequate:       volumeAdequate(bars),
		RiskRewardFavorable:  bandsFavorable(bars, set),
	}
	c.OverallFavorable = c.Score() >= minFavorableScore
	return c
}

func trendClear(bars []models.PriceBar, set indicators.Set) bool {
	price := bars[len(bars)-1].Close
	ma20, ma50 := set.Latest(indicators.KeyMA20), set.Latest(indicators.KeyMA50)
	if price == 0 || ma20 == 0 || math.IsNaN(ma20) || math.IsNaN(ma50) {
		return false
	}
	return math.Abs(price-ma20)/price > trendPriceGap && math.Abs(ma20-ma50)/ma20 > trendMAGap
}

func volatilityManageable(bars []models.PriceBar, set indicators.Set) bool {
	price := bars[len(bars)-1].Close
	atr := set.Latest(indicators.KeyATR)
	if price == 0 || math.IsNaN(atr) {
		return false
	}
	avg := mean(set.Tail(indicators.KeyATR, volumeWindow))
	expansion := 1.0
	if avg > 0 {
		expansion = atr / avg
	}
	return atr/price*100 < maxATRPercent && expansion < maxATRExpansion
}

// volumeAdequate passes when there is no usable volume data.
func volumeAdequate(bars []models.PriceBar) bool {
	if len(bars) < volumeWindow {
		return true
	}
	vols := models.Volumes(bars[len(bars)-volumeWindow:])
	avg := mean(vols)
	if avg == 0 {
		return true
	}
	return vols[len(vols)-1] >= avg*minVolumeRatio
}

func bandsFavorable(bars []models.PriceBar, set indicators.Set) bool {
	price := bars[len(bars)-1].Close
	upper, lower := set.Latest(indicators.KeyBBUpper), set.Latest(indicators.KeyBBLower)
	width := upper - lower
	return math.Abs(price-upper) > width*bandEdgeFraction && math.Abs(price-lower) > width*bandEdgeFraction
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
