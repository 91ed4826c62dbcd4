package helper

import (
	"strings"
)

// NormTF folds timeframe spellings ("60m", "1H", "candle4h", "1440m") to the
// canonical short form.
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1h"
	case "240m", "4h":
		return "4h"
	case "1440m", "24h", "1d":
		return "1d"
	default:
		return s
	}
}

// BaseAsset returns the base of a pair such as "BTC/USDT", "BTC-USDT" or
// "BTCUSDT".
func BaseAsset(symbol string) string {
	base := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(base, "/-_"); i > 0 {
		return base[:i]
	}
	return strings.TrimSuffix(base, "USDT")
}
