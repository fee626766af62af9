package sqlite

import (
	"fmt"
	"path/filepath"
	"testing"

	"charting-systemv1/internal/model"
)

func testCandle(symbol string, tf int, i int, close float64) model.Candle {
	ts := int64(1700000000000) + int64(i)*int64(tf)*1000
	return model.Candle{
		Symbol: symbol, TF: tf, TS: ts,
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
		Volume: 100,
	}
}

func TestReader_ReadCandles(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "r.db")
	w2, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w2.Close()

	batch := []model.Candle{
		testCandle("BTCUSD", 60, 0, 10),
		testCandle("BTCUSD", 60, 1, 11),
		testCandle("BTCUSD", 60, 2, 12),
		testCandle("ETHUSD", 60, 0, 20),
	}
	if err := w2.insertBatch(batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadCandles("BTCUSD", 60, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	if got[0].Close != 10 || got[2].Close != 12 {
		t.Errorf("wrong order or values: %+v", got)
	}

	// afterTS filter excludes the first candle
	got, err = r.ReadCandles("BTCUSD", 60, batch[0].TS)
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 candles after ts filter, got %d", len(got))
	}

	all, err := r.ReadAllCandles(60, 0)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 candles across symbols, got %d", len(all))
	}

	syms, err := r.Symbols(60)
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if len(syms) != 2 || syms[0] != "BTCUSD" || syms[1] != "ETHUSD" {
		t.Errorf("expected [BTCUSD ETHUSD], got %v", syms)
	}
}

func TestReader_ReadLastCandles(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "last.db")
	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	var batch []model.Candle
	for i := 0; i < 10; i++ {
		batch = append(batch, testCandle("BTCUSD", 60, i, float64(10+i)))
	}
	if err := w.insertBatch(batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadLastCandles("BTCUSD", 60, 3)
	if err != nil {
		t.Fatalf("read last: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	// Ascending order, most recent 3: closes 17, 18, 19
	if got[0].Close != 17 || got[1].Close != 18 || got[2].Close != 19 {
		t.Errorf("expected [17 18 19], got [%g %g %g]", got[0].Close, got[1].Close, got[2].Close)
	}
}

func TestWriter_InsertOrReplace(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replace.db")
	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	c := testCandle("BTCUSD", 60, 0, 10)
	if err := w.insertBatch([]model.Candle{c}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	c.Close = 99
	if err := w.insertBatch([]model.Candle{c}); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadCandles("BTCUSD", 60, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Close != 99 {
		t.Errorf("expected single replaced candle with close=99, got %+v", got)
	}
}

func TestWriter_GetLastTimestamp(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ts.db")
	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	ts, err := w.GetLastTimestamp("BTCUSD", 60)
	if err != nil {
		t.Fatalf("empty last ts: %v", err)
	}
	if ts != 0 {
		t.Errorf("expected 0 for empty table, got %d", ts)
	}

	batch := []model.Candle{
		testCandle("BTCUSD", 60, 0, 10),
		testCandle("BTCUSD", 60, 5, 11),
	}
	if err := w.insertBatch(batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ts, err = w.GetLastTimestamp("BTCUSD", 60)
	if err != nil {
		t.Fatalf("last ts: %v", err)
	}
	if ts != batch[1].TS {
		t.Errorf("expected %d, got %d", batch[1].TS, ts)
	}
}

func TestSnapshot_SaveAndLoadLatest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snap.db")
	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if data, err := w.ReadLatestSnapshotJSON(); err != nil || data != nil {
		t.Fatalf("expected nil, nil for empty store, got %v, %v", data, err)
	}

	if err := w.SaveSnapshotJSON([]byte(`{"version":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := w.SaveSnapshotJSON([]byte(`{"version":2}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := w.ReadLatestSnapshotJSON()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != `{"version":2}` {
		t.Errorf("expected latest snapshot, got %s", data)
	}

	// Prune keeps the last 10
	for i := 3; i <= 15; i++ {
		if err := w.SaveSnapshotJSON([]byte(fmt.Sprintf(`{"version":%d}`, i))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	var count int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM engine_snapshots`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count > 10 {
		t.Errorf("expected at most 10 snapshots after prune, got %d", count)
	}
}
