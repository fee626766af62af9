package feed

import (
	"context"
	"testing"
	"time"

	"charting-systemv1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := NewFanOut(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	candle := model.Candle{
		Symbol: "BTCUSD",
		TF:     60,
		TS:     1700000000000,
		Open:   100, High: 110, Low: 90, Close: 105,
	}

	input <- candle

	select {
	case c := <-out1:
		if c.Symbol != "BTCUSD" {
			t.Errorf("out1: expected symbol BTCUSD, got %s", c.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for candle")
	}

	select {
	case c := <-out2:
		if c.Symbol != "BTCUSD" {
			t.Errorf("out2: expected symbol BTCUSD, got %s", c.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for candle")
	}
}

func TestFanOut_SlowConsumerDoesNotBlock(t *testing.T) {
	fo := NewFanOut(1) // tiny buffer so the slow consumer overflows
	slow := fo.Subscribe()
	fast := fo.Subscribe()

	drops := 0
	fo.OnDrop = func(idx int) {
		if idx == 0 {
			drops++
		}
	}

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	// The slow consumer never reads; the fast one must still get candles.
	for i := 0; i < 5; i++ {
		input <- model.Candle{Symbol: "BTCUSD", TF: 60, TS: int64(i)}
	}

	received := 0
	deadline := time.After(time.Second)
	for received < 5 {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast consumer starved: got %d of 5", received)
		}
	}

	if drops == 0 {
		t.Error("expected drops for the slow consumer")
	}
	_ = slow
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := NewFanOut(4)
	out := fo.Subscribe()

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Candle{Symbol: "BTCUSD"}
	input <- model.Candle{Symbol: "BTCUSD"}
	time.Sleep(50 * time.Millisecond)

	stats := fo.ChannelStats()
	if len(stats) != 1 {
		t.Fatalf("expected 1 stat, got %d", len(stats))
	}
	if stats[0].Cap != 4 {
		t.Errorf("expected cap=4, got %d", stats[0].Cap)
	}
	if stats[0].Len != 2 {
		t.Errorf("expected len=2, got %d", stats[0].Len)
	}
	_ = out
}
