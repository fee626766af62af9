package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// BuildSnapshotFromRedis reads historical candles + indicator data from the
// capped Redis streams for one subscription.
func BuildSnapshotFromRedis(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, candleLimit int) (*SnapshotResponse, error) {
	if candleLimit <= 0 {
		candleLimit = 500
	}
	if candleLimit > 1000 {
		candleLimit = 1000
	}

	snap := &SnapshotResponse{
		Type:       "SNAPSHOT",
		Symbol:     sub.Symbol,
		TF:         sub.TF,
		Candles:    make([]SnapshotCandle, 0, candleLimit),
		Indicators: make(map[string][]SnapshotPoint, len(sub.IndEntries)),
	}

	// 1. Fetch candles from the Redis stream
	candleStreamKey := fmt.Sprintf("candle:%ds:%s", sub.TF, sub.Symbol)
	candleMsgs, err := rdb.XRevRangeN(ctx, candleStreamKey, "+", "-", int64(candleLimit)).Result()
	if err != nil {
		log.Printf("[gateway] candle stream read error for %s: %v", candleStreamKey, err)
		// Don't fail — just return empty candles
	} else {
		// Reverse to chronological order
		for i, j := 0, len(candleMsgs)-1; i < j; i, j = i+1, j-1 {
			candleMsgs[i], candleMsgs[j] = candleMsgs[j], candleMsgs[i]
		}
		for _, msg := range candleMsgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var c SnapshotCandle
			if err := json.Unmarshal([]byte(dataStr), &c); err != nil {
				continue
			}
			if c.TS > 0 {
				snap.Candles = append(snap.Candles, c)
			}
		}
	}

	// 2. Fetch indicator histories (using per-indicator TF)
	for _, entry := range sub.IndEntries {
		snapKey := entry.Key()
		indStreamKey := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
		indMsgs, err := rdb.XRevRangeN(ctx, indStreamKey, "+", "-", int64(candleLimit)).Result()
		if err != nil {
			log.Printf("[gateway] indicator stream read error for %s: %v", indStreamKey, err)
			snap.Indicators[snapKey] = []SnapshotPoint{}
			continue
		}

		// Reverse to chronological order
		for i, j := 0, len(indMsgs)-1; i < j; i, j = i+1, j-1 {
			indMsgs[i], indMsgs[j] = indMsgs[j], indMsgs[i]
		}

		points := make([]SnapshotPoint, 0, len(indMsgs))
		for _, msg := range indMsgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var p struct {
				TS     int64     `json:"ts"`
				Values []float64 `json:"values"`
				Ready  bool      `json:"ready"`
				Live   bool      `json:"live"`
			}
			if err := json.Unmarshal([]byte(dataStr), &p); err != nil {
				continue
			}
			if !p.Ready || p.Live || p.TS == 0 {
				continue
			}
			points = append(points, SnapshotPoint{TS: p.TS, Values: p.Values, Ready: p.Ready})
		}

		// Deduplicate by timestamp: keep the LAST value for each TS
		// (streams may contain multiple entries per candle after backfill
		// recomputation)
		seen := make(map[int64]int, len(points))
		deduped := make([]SnapshotPoint, 0, len(points))
		for _, pt := range points {
			if idx, ok := seen[pt.TS]; ok {
				deduped[idx] = pt
			} else {
				seen[pt.TS] = len(deduped)
				deduped = append(deduped, pt)
			}
		}

		sort.Slice(deduped, func(i, j int) bool {
			return deduped[i].TS < deduped[j].TS
		})

		snap.Indicators[snapKey] = deduped
	}

	return snap, nil
}

// SendJSON marshals and sends a message to the client's send channel.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[gateway] client send buffer full, dropping message")
	}
}

// SendError sends an error response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}

// publishNewIndicators checks which requested indicators the compute engine
// doesn't know yet and publishes the full spec set to the config:indicators
// channel for a dynamic reload. Returns true if new indicators were added.
func publishNewIndicators(ctx context.Context, rdb *goredis.Client, hub *Hub, names []string) bool {
	known := make(map[string]bool)
	var allSpecs []string

	hub.mu.RLock()
	indicators := make([]string, len(hub.Indicators))
	copy(indicators, hub.Indicators)
	hub.mu.RUnlock()

	for _, ind := range indicators {
		spec := NameToSpec(ind)
		known[spec] = true
		allSpecs = append(allSpecs, spec)
	}

	hasNew := false
	for _, n := range names {
		if at := strings.IndexByte(n, '@'); at >= 0 {
			n = n[:at]
		}
		spec := NameToSpec(n)
		if spec == "" || known[spec] {
			continue
		}
		known[spec] = true
		allSpecs = append(allSpecs, spec)
		hub.mu.Lock()
		hub.Indicators = append(hub.Indicators, strings.ToUpper(n))
		hub.mu.Unlock()
		hasNew = true
	}

	if !hasNew {
		return false
	}

	payload := strings.Join(allSpecs, ",")
	log.Printf("[gateway] publishing new indicator config: %s", payload)

	tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Publish(tctx, "config:indicators", payload).Err(); err != nil {
		log.Printf("[gateway] WARNING: failed to publish config:indicators: %v", err)
	}
	return true
}

// waitForIndicators polls Redis until all subscribed indicator streams have
// data, or until the timeout expires. This gives the compute engine time to
// backfill after a dynamic config reload.
func waitForIndicators(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			log.Printf("[gateway] timed out waiting for indicator streams")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			allReady := true
			for _, entry := range sub.IndEntries {
				key := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
				n, err := rdb.XLen(ctx, key).Result()
				if err != nil || n == 0 {
					allReady = false
					break
				}
			}
			if allReady {
				return
			}
		}
	}
}
