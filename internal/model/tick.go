package model

import "encoding/json"

// Tick is one raw trade/quote update from the market-data feed.
// TS is epoch milliseconds. Only the feed service consumes ticks; the
// indicator engine itself works exclusively on finalized candles.
type Tick struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"` // epoch milliseconds
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
}

// JSON returns the JSON-encoded tick.
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
