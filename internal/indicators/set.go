package indicators

import (
	"errors"
	"math"

	"conservative_bot/internal/models"
)

// Indicator names in a Set.
const (
	KeyATR           = "atr"
	KeyRSI           = "rsi"
	KeyBBUpper       = "bb_upper"
	KeyBBMiddle      = "bb_middle"
	KeyBBLower       = "bb_lower"
	KeyMA20          = "ma_20"
	KeyMA50          = "ma_50"
	KeyEMA12         = "ema_12"
	KeyEMA26         = "ema_26"
	KeyMACD          = "macd"
	KeyMACDSignal    = "macd_signal"
	KeyMACDHistogram = "macd_histogram"
)

// MinBars is the shortest history Calculate will work on.
const MinBars = MACDSlow

var ErrInsufficientData = errors.New("insufficient bars for indicators")

// Set maps indicator name to a series aligned with the source bars.
type Set map[string][]float64

// Latest returns the last value of name, or NaN when it is absent.
func (s Set) Latest(name string) float64 {
	v, ok := s[name]
	if !ok || len(v) == 0 {
		return math.NaN()
	}
	return v[len(v)-1]
}

// Tail returns the last n values of name.
func (s Set) Tail(name string, n int) []float64 {
	v := s[name]
	if n >= len(v) {
		return v
	}
	return v[len(v)-n:]
}

// Calculate builds the full indicator set. ok is false below MinBars.
func Calculate(bars []models.PriceBar) (Set, bool) {
	if len(bars) < MinBars {
		return Set{}, false
	}
	closes := models.Closes(bars)
	highs := models.Highs(bars)
	lows := models.Lows(bars)

	upper, middle, lower := Bollinger(closes, DefaultBBPeriod, DefaultBBStdDev)
	macd, signal, hist := MACD(closes, MACDFast, MACDSlow, MACDSignal)

	return Set{
		KeyATR:           ATR(highs, lows, closes, DefaultATRPeriod),
		KeyRSI:           RSI(closes, DefaultRSIPeriod),
		KeyBBUpper:       upper,
		KeyBBMiddle:      middle,
		KeyBBLower:       lower,
		KeyMA20:          SMA(closes, 20),
		KeyMA50:          SMA(closes, 50),
		KeyEMA12:         EMA(closes, MACDFast),
		KeyEMA26:         EMA(closes, MACDSlow),
		KeyMACD:          macd,
		KeyMACDSignal:    signal,
		KeyMACDHistogram: hist,
	}, true
}
