// Package chartengine is the indicator compute service: it consumes
// finalized candles from Redis Streams, runs the indicator engine over
// them, and publishes aligned points back to Redis for the gateway.
package chartengine

import (
	"os"
	"strconv"
	"strings"

	"charting-systemv1/internal/indicator"
)

// Config holds all env-parsed configuration for the chart engine service.
type Config struct {
	RedisAddr         string
	RedisPassword     string
	SQLitePath        string
	ConsumerGroup     string
	ConsumerName      string
	EnabledTFs        []int
	SnapshotIntervalS int
	Symbols           []string
	SnapshotKey       string
	HTTPAddr          string
	PELIntervalS      int
	PELMinIdleMs      int64
	Specs             []indicator.Spec
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	pelInterval, _ := strconv.Atoi(getEnv("PEL_RECLAIM_INTERVAL_SEC", "30"))
	if pelInterval <= 0 {
		pelInterval = 30
	}
	pelMinIdle, _ := strconv.ParseInt(getEnv("PEL_MIN_IDLE_MS", "60000"), 10, 64)
	if pelMinIdle <= 0 {
		pelMinIdle = 60000
	}
	snapshotInterval, _ := strconv.Atoi(getEnv("SNAPSHOT_INTERVAL_SEC", "30"))
	if snapshotInterval <= 0 {
		snapshotInterval = 30
	}

	return Config{
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		SQLitePath:        getEnv("SQLITE_PATH", "data/candles.db"),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "chartengine"),
		ConsumerName:      getEnv("CONSUMER_NAME", "worker-1"),
		EnabledTFs:        ParseTFs(getEnv("ENABLED_TFS", "60,300")),
		SnapshotIntervalS: snapshotInterval,
		Symbols:           parseSymbols(getEnv("SUBSCRIBE_SYMBOLS", "")),
		SnapshotKey:       getEnv("SNAPSHOT_KEY", "ind:snapshot:engine"),
		HTTPAddr:          getEnv("CHARTENGINE_HTTP_ADDR", ":9095"),
		PELIntervalS:      pelInterval,
		PELMinIdleMs:      pelMinIdle,
		Specs:             indicator.ParseSpecs(getEnv("INDICATOR_SPECS", "")),
	}
}

// ParseTFs parses a comma-separated timeframe list like "60,300".
func ParseTFs(s string) []int {
	parts := strings.Split(s, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// parseSymbols parses "BTCUSD,ETHUSD" into a symbol list.
func parseSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var symbols []string
	for _, sym := range strings.Split(s, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
