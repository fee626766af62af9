package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCandle marks a candle that violates the OHLC invariant or
// carries a non-positive price / negative volume. The engine never repairs
// such candles — a batch containing one fails as a whole, because silently
// dropping it would desynchronize timestamp alignment across indicators.
var ErrInvalidCandle = errors.New("invalid candle")

// ErrUnorderedSeries marks a candle series whose timestamps are not
// strictly increasing. Input must arrive deduplicated and sorted.
var ErrUnorderedSeries = errors.New("candle series not strictly ordered")

// Candle represents one finalized OHLCV bucket for a single symbol + timeframe.
// TS is the bucket start in epoch milliseconds (UTC, TF-aligned).
type Candle struct {
	Symbol  string  `json:"symbol"`
	TF      int     `json:"tf"` // timeframe in seconds
	TS      int64   `json:"ts"` // epoch milliseconds
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
	Volume  float64 `json:"volume"`
	Forming bool    `json:"forming,omitempty"` // true while the bucket is still open
}

// Key returns a unique key for this candle's (symbol, timeframe) pair.
func (c *Candle) Key() string {
	return c.Symbol + ":" + Itoa(c.TF)
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{symbol}".
func (c *Candle) StreamKey() string {
	return "candle:" + Itoa(c.TF) + "s:" + c.Symbol
}

// PubSubChannel returns the Redis Pub/Sub channel: "pub:candle:{TF}s:{symbol}".
func (c *Candle) PubSubChannel() string {
	return "pub:candle:" + Itoa(c.TF) + "s:" + c.Symbol
}

// LatestKey returns the Redis key holding the most recent candle:
// "candle:{TF}s:latest:{symbol}".
func (c *Candle) LatestKey() string {
	return "candle:" + Itoa(c.TF) + "s:latest:" + c.Symbol
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// TypicalPrice returns (high+low+close)/3.
func (c *Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3.0
}

// Validate checks the OHLC ordering invariant and price/volume sanity.
func (c *Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive price at ts=%d", ErrInvalidCandle, c.TS)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume at ts=%d", ErrInvalidCandle, c.TS)
	}
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo || c.High < hi {
		return fmt.Errorf("%w: OHLC ordering violated at ts=%d (O=%g H=%g L=%g C=%g)",
			ErrInvalidCandle, c.TS, c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// ValidateSeries checks every candle and the strict timestamp ordering of the
// whole slice. It is the single ingestion gate for batch computation.
func ValidateSeries(candles []Candle) error {
	var prevTS int64
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && candles[i].TS <= prevTS {
			return fmt.Errorf("%w: candle %d ts=%d after ts=%d",
				ErrUnorderedSeries, i, candles[i].TS, prevTS)
		}
		prevTS = candles[i].TS
	}
	return nil
}

// Itoa is a minimal int-to-string without importing strconv in hot paths.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
