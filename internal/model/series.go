package model

import "encoding/json"

// Point is one aligned output of an indicator: the timestamp of the input
// candle that produced it plus one value per output column.
type Point struct {
	TS     int64     `json:"ts"` // epoch milliseconds, taken from the source candle
	Values []float64 `json:"values"`
}

// IndicatorSeries is the batch output of one indicator instance. Points carry
// a subsequence of the input timestamps — consumers must not assume
// contiguous coverage of the original candle series.
//
// Invariant: len(Points) == len(candles) - warmup + 1 once the input is at
// least warmup candles long, else Points is empty. VWAP additionally omits
// points while the cumulative volume is still zero.
type IndicatorSeries struct {
	ID      string   `json:"id"`        // full instance id, e.g. "SMA_20", "MACD_12_26_9"
	Kind    string   `json:"indicator"` // kernel family, e.g. "SMA", "MACD"
	Columns []string `json:"columns"`   // value names, e.g. ["macd","signal","histogram"]
	Points  []Point  `json:"points"`
}

// JSON returns the JSON-encoded series.
func (s *IndicatorSeries) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// IndicatorUpdate is one streaming output point for a specific symbol + TF.
// It is the per-append analog of a batch Point.
type IndicatorUpdate struct {
	Name    string    `json:"name"` // e.g. "SMA_20", "BOLL_20_2"
	Symbol  string    `json:"symbol"`
	TF      int       `json:"tf"` // timeframe in seconds
	TS      int64     `json:"ts"` // candle timestamp that produced this value
	Columns []string  `json:"columns"`
	Values  []float64 `json:"values"`
	Ready   bool      `json:"ready"` // true once the warm-up window is filled
	Live    bool      `json:"live"`  // true for preview values from forming candles
}

// StreamKey returns the Redis stream key: "ind:{name}:{TF}s:{symbol}".
func (u *IndicatorUpdate) StreamKey() string {
	return "ind:" + u.Name + ":" + Itoa(u.TF) + "s:" + u.Symbol
}

// PubSubChannel returns the Redis Pub/Sub channel:
// "pub:ind:{name}:{TF}s:{symbol}".
func (u *IndicatorUpdate) PubSubChannel() string {
	return "pub:ind:" + u.Name + ":" + Itoa(u.TF) + "s:" + u.Symbol
}

// LatestKey returns the Redis key holding the most recent value:
// "ind:{name}:{TF}s:latest:{symbol}".
func (u *IndicatorUpdate) LatestKey() string {
	return "ind:" + u.Name + ":" + Itoa(u.TF) + "s:latest:" + u.Symbol
}

// JSON returns the JSON-encoded update.
func (u *IndicatorUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
