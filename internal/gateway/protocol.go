package gateway

import (
	"strconv"
	"strings"
)

// ── WS Protocol Message Types ──

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type       string         `json:"type"`       // "SUBSCRIBE"
	ReqID      string         `json:"reqId"`      // client-generated request ID
	Symbol     string         `json:"symbol"`     // e.g. "BTCUSD"
	TF         int            `json:"tf"`         // timeframe in seconds
	History    HistoryRequest `json:"history"`    // how many historical bars
	Indicators []string       `json:"indicators"` // instance names, e.g. ["SMA_20","MACD_12_26_9"]
}

// HistoryRequest specifies how many historical candles to fetch.
type HistoryRequest struct {
	Candles int `json:"candles"`
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type   string `json:"type"` // "UNSUBSCRIBE"
	ReqID  string `json:"reqId"`
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
}

// SnapshotResponse is the server → client SNAPSHOT with historical data.
type SnapshotResponse struct {
	Type       string                     `json:"type"` // "SNAPSHOT"
	ReqID      string                     `json:"reqId"`
	Symbol     string                     `json:"symbol"`
	TF         int                        `json:"tf"`
	Candles    []SnapshotCandle           `json:"candles"`
	Indicators map[string][]SnapshotPoint `json:"indicators"` // keyed by "NAME:TF"
}

// SnapshotCandle is a single candle in the snapshot.
type SnapshotCandle struct {
	TS     int64   `json:"ts"` // epoch milliseconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// SnapshotPoint is a single indicator point in the snapshot. Values carries
// one entry per output column (e.g. MACD has macd/signal/histogram).
type SnapshotPoint struct {
	TS     int64     `json:"ts"`
	Values []float64 `json:"values"`
	Ready  bool      `json:"ready"`
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// ── Subscription State ──

// IndEntry is a resolved indicator identity with composite key (name + tf).
type IndEntry struct {
	Name string
	TF   int
}

// Key returns the composite identity "NAME:TF".
func (e IndEntry) Key() string {
	return e.Name + ":" + strconv.Itoa(e.TF)
}

// ClientSubscription holds per-(symbol, tf) state for a client.
type ClientSubscription struct {
	Symbol     string
	TF         int
	IndEntries []IndEntry // resolved (name, tf) pairs — no collisions
}

// SubKey returns the map key for this subscription.
func (s *ClientSubscription) SubKey() string {
	return s.Symbol + ":" + strconv.Itoa(s.TF)
}

// ── Helpers ──

// NameToSpec converts an instance name like "MACD_12_26_9" to the engine's
// config form "MACD:12:26:9".
func NameToSpec(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), "_", ":")
}

// ResolveIndEntries builds (name, tf) entries for the subscription. Names
// may carry a "@tf" suffix for a per-indicator TF override, e.g.
// "SMA_20@300"; the subscription TF is used otherwise.
func ResolveIndEntries(names []string, defaultTF int) []IndEntry {
	entries := make([]IndEntry, 0, len(names))
	for _, n := range names {
		tf := defaultTF
		if at := strings.IndexByte(n, '@'); at >= 0 {
			if v, err := strconv.Atoi(n[at+1:]); err == nil && v > 0 {
				tf = v
			}
			n = n[:at]
		}
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		entries = append(entries, IndEntry{Name: n, TF: tf})
	}
	return entries
}

// parsedChannel holds the parsed components of a Redis PubSub channel name.
type parsedChannel struct {
	chType  string // "candle", "indicator"
	indName string // for indicator channels: "SMA_20"
	tf      int    // timeframe in seconds
	symbol  string // "BTCUSD"
}

// parseChannel parses a PubSub channel like "pub:candle:60s:BTCUSD"
// or "pub:ind:SMA_20:60s:BTCUSD".
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) < 4 {
		return nil
	}

	// pub:candle:60s:BTCUSD  (4 parts)
	if parts[0] == "pub" && parts[1] == "candle" {
		return &parsedChannel{
			chType: "candle",
			tf:     parseTFStr(parts[2]),
			symbol: parts[3],
		}
	}

	// pub:ind:SMA_20:60s:BTCUSD  (5 parts)
	if parts[0] == "pub" && parts[1] == "ind" && len(parts) >= 5 {
		return &parsedChannel{
			chType:  "indicator",
			indName: parts[2],
			tf:      parseTFStr(parts[3]),
			symbol:  parts[4],
		}
	}

	return nil
}

// parseTFStr parses "60s" → 60.
func parseTFStr(s string) int {
	s = strings.TrimSuffix(s, "s")
	n := 0
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			n = n*10 + int(ch-'0')
		}
	}
	return n
}
