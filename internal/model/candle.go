package model

import (
	"strings"
	"time"
)

// Candle is one closed OHLCV bar for a symbol. Prices are quote-currency
// floats; exact decimal handling lives at the exchange boundary.
type Candle struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`

	// Gap is set by the feed when one or more bars before this one were
	// never delivered.
	Gap bool `json:"gap,omitempty"`
}

// NormalizeSymbol turns a display pair ("ETH/USDT") into the exchange form
// ("ETHUSDT").
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "/", ""))
}
