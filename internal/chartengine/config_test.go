package chartengine

import (
	"testing"
)

func TestParseTFs(t *testing.T) {
	cases := []struct {
		in   string
		want []int
	}{
		{"60,300", []int{60, 300}},
		{" 60 , 120 ,, 300 ", []int{60, 120, 300}},
		{"60,abc,-5,300", []int{60, 300}},
		{"", nil},
	}
	for _, tc := range cases {
		got := ParseTFs(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("ParseTFs(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ParseTFs(%q)[%d] = %d, want %d", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParseSymbols(t *testing.T) {
	got := parseSymbols(" btcusd , ETHUSD ,")
	if len(got) != 2 || got[0] != "BTCUSD" || got[1] != "ETHUSD" {
		t.Errorf("parseSymbols: got %v", got)
	}
	if parseSymbols("") != nil {
		t.Error("parseSymbols(\"\") should be nil")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ENABLED_TFS", "")
	t.Setenv("INDICATOR_SPECS", "")

	cfg := LoadConfig()
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr default: got %s", cfg.RedisAddr)
	}
	if cfg.ConsumerGroup != "chartengine" {
		t.Errorf("ConsumerGroup default: got %s", cfg.ConsumerGroup)
	}
	if len(cfg.EnabledTFs) != 2 || cfg.EnabledTFs[0] != 60 || cfg.EnabledTFs[1] != 300 {
		t.Errorf("EnabledTFs default: got %v", cfg.EnabledTFs)
	}
	if len(cfg.Specs) == 0 {
		t.Error("expected default indicator specs")
	}
	if cfg.SnapshotIntervalS != 30 {
		t.Errorf("SnapshotIntervalS default: got %d", cfg.SnapshotIntervalS)
	}
}

func TestLoadConfig_IndicatorSpecs(t *testing.T) {
	t.Setenv("INDICATOR_SPECS", "SMA:20,RSI:14,MACD:12:26:9")
	cfg := LoadConfig()
	if len(cfg.Specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(cfg.Specs))
	}
	names := []string{"SMA_20", "RSI_14", "MACD_12_26_9"}
	for i, want := range names {
		if got := cfg.Specs[i].Name(); got != want {
			t.Errorf("spec %d: got %s, want %s", i, got, want)
		}
	}
}
