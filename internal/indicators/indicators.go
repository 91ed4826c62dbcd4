// Package indicators computes technical indicators over closed OHLCV bars.
// Every function returns a slice aligned index-for-index with its input.
// Inputs shorter than an indicator's window yield a neutral-filled slice.
package indicators

import "math"

const (
	DefaultATRPeriod = 14
	DefaultRSIPeriod = 14
	DefaultBBPeriod  = 20
	DefaultBBStdDev  = 2.0
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignal       = 9

	// neutral RSI reported while the window is warming up
	NeutralRSI = 50.0

	minRSILoss = 1e-6
)

// ATR is the rolling mean of true range. Warm-up slots are 0.
func ATR(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := make([]float64, n)
	if period <= 0 || n < period || len(high) != n || len(low) != n {
		return out
	}

	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := high[i] - low[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += tr[i]
		if i >= period {
			sum -= tr[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI uses simple rolling means of gains and losses over period deltas. The
// first bar counts as a zero delta, so values start at index period-1; earlier
// slots are NeutralRSI.
func RSI(close []float64, period int) []float64 {
	n := len(close)
	out := fill(n, NeutralRSI)
	if period <= 0 || n < period+1 {
		return out
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := close[i] - close[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	var sumGain, sumLoss float64
	for i := 0; i < n; i++ {
		sumGain += gains[i]
		sumLoss += losses[i]
		if i >= period {
			sumGain -= gains[i-period]
			sumLoss -= losses[i-period]
		}
		if i < period-1 {
			continue
		}
		avgGain := math.Max(sumGain, 0) / float64(period)
		avgLoss := math.Max(sumLoss/float64(period), minRSILoss)
		out[i] = 100 - 100/(1+avgGain/avgLoss)
	}
	return out
}

// SMA is a rolling mean. Warm-up slots carry the close at that index.
func SMA(close []float64, period int) []float64 {
	n := len(close)
	if period <= 0 || n < period {
		return fill(n, last(close))
	}
	out := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += close[i]
		if i >= period {
			sum -= close[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = close[i]
		}
	}
	return out
}

// EMA is the exponentially weighted mean with span period and adjusted
// weights, alpha = 2/(period+1).
func EMA(close []float64, period int) []float64 {
	n := len(close)
	if period <= 0 || n < period {
		return fill(n, last(close))
	}
	return ewm(close, period)
}

func ewm(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	decay := 1 - 2.0/(float64(span)+1)
	var num, den float64
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// Bollinger returns upper, middle and lower bands. Bands use the sample
// standard deviation. Warm-up slots carry the close.
func Bollinger(close []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(close)
	if period <= 1 || n < period {
		v := last(close)
		return fill(n, v), fill(n, v), fill(n, v)
	}

	middle = SMA(close, period)
	upper = make([]float64, n)
	lower = make([]float64, n)
	for i := 0; i < n; i++ {
		if i < period-1 {
			upper[i], lower[i] = close[i], close[i]
			continue
		}
		sd := sampleStd(close[i-period+1:i+1], middle[i])
		upper[i] = middle[i] + k*sd
		lower[i] = middle[i] - k*sd
	}
	return upper, middle, lower
}

// MACD returns the macd line, its signal line and the histogram. Inputs
// shorter than the slow period yield zeros.
func MACD(close []float64, fast, slow, signal int) (line, sig, hist []float64) {
	n := len(close)
	if slow <= 0 || n < slow {
		return make([]float64, n), make([]float64, n), make([]float64, n)
	}
	emaFast := ewm(close, fast)
	emaSlow := ewm(close, slow)

	line = make([]float64, n)
	for i := range close {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig = ewm(line, signal)
	hist = make([]float64, n)
	for i := range line {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

func sampleStd(window []float64, mean float64) float64 {
	if len(window) < 2 {
		return 0
	}
	ss := 0.0
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(window)-1))
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}
