package chartengine

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"charting-systemv1/internal/indicator"
)

// snapshotLoop periodically checkpoints engine state to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := svc.saveSnapshot(ctx, currentStreamMarker()); err != nil {
				svc.prom.SnapshotFailures.Inc()
				log.Printf("[chartengine] snapshot error: %v", err)
				continue
			}
			svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
		}
	}
}

// saveSnapshot serializes the engine and writes it to both stores. Redis is
// the fast restore path; the SQLite copy survives a Redis flush.
func (svc *Service) saveSnapshot(ctx context.Context, streamID string) error {
	snap, err := indicator.SnapshotEngine(svc.engine, streamID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	if err := svc.redisReader.WriteSnapshotJSON(ctx, svc.cfg.SnapshotKey, data); err != nil {
		log.Printf("[chartengine] redis snapshot write error: %v", err)
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshotJSON(data); err != nil {
			log.Printf("[chartengine] sqlite snapshot write error: %v", err)
		}
	}

	log.Printf("[chartengine] checkpoint saved (%d sessions)", len(snap.Sessions))
	return nil
}

// loadSnapshot reads the latest engine snapshot, trying Redis first and
// falling back to SQLite. Returns nil when neither store has one.
func (svc *Service) loadSnapshot(ctx context.Context) *indicator.EngineSnapshot {
	data, err := svc.redisReader.ReadSnapshotJSON(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[chartengine] redis snapshot read error: %v", err)
	}
	if data == nil && svc.sqlReader != nil {
		data, err = svc.sqlReader.ReadLatestSnapshotJSON()
		if err != nil {
			log.Printf("[chartengine] sqlite snapshot read error: %v", err)
		}
	}
	if data == nil {
		return nil
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("[chartengine] snapshot decode error: %v", err)
		return nil
	}
	return &snap
}

// currentStreamMarker returns a time-based stream ID marker for snapshots.
func currentStreamMarker() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
}
