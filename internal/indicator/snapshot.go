package indicator

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"charting-systemv1/internal/model"
)

// StateSnapshot holds the serialized state of a single kernel instance.
// The State payload is kernel-specific and opaque to everything but the
// kernel that wrote it.
type StateSnapshot struct {
	Name  string          `json:"name"` // instance id, e.g. "SMA_20"
	Kind  string          `json:"kind"`
	State json.RawMessage `json:"state"`
}

// SessionSnapshot holds the kernel snapshots for one (symbol, timeframe).
type SessionSnapshot struct {
	Symbol     string          `json:"symbol"`
	TF         int             `json:"tf"`
	LastTS     int64           `json:"last_ts"`
	Indicators []StateSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the engine at a checkpoint.
type EngineSnapshot struct {
	StreamID string            `json:"stream_id"` // consumer stream position at checkpoint time
	Version  int               `json:"version"`   // schema version for forward compat
	Sessions []SessionSnapshot `json:"sessions"`
}

// SnapshotEngine captures the full state of an Engine. The stream ID records
// where the consumer stood so a restart can replay only the delta.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  1,
	}

	keys := make([]string, 0, len(e.sessions))
	for k := range e.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic snapshot order

	for _, key := range keys {
		sess := e.sessions[key]
		ss := SessionSnapshot{
			Symbol:     sess.symbol,
			TF:         sess.tf,
			LastTS:     sess.lastTS,
			Indicators: make([]StateSnapshot, 0, len(sess.states)),
		}
		for i, st := range sess.states {
			sn, ok := st.(Snapshottable)
			if !ok {
				return nil, fmt.Errorf("indicator %s does not support snapshots", st.Name())
			}
			raw, err := sn.MarshalState()
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", st.Name(), err)
			}
			ss.Indicators = append(ss.Indicators, StateSnapshot{
				Name:  st.Name(),
				Kind:  sess.specs[i].Kind,
				State: raw,
			})
		}
		snap.Sessions = append(snap.Sessions, ss)
	}
	return snap, nil
}

// RestoreEngine rebuilds an Engine from a snapshot. It is tolerant of config
// changes — kernel states are matched by instance name rather than position.
// Matching kernels get their state restored; new ones start cold; removed
// ones are silently skipped.
func RestoreEngine(specs []Spec, snap *EngineSnapshot) (*Engine, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	e := NewEngine(specs)

	for _, ss := range snap.Sessions {
		sess, err := NewSession(ss.Symbol, ss.TF, specs)
		if err != nil {
			return nil, err
		}
		sess.lastTS = ss.LastTS

		byName := make(map[string]StateSnapshot, len(ss.Indicators))
		for _, is := range ss.Indicators {
			byName[is.Name] = is
		}

		restored, cold := 0, 0
		for _, st := range sess.states {
			is, found := byName[st.Name()]
			if !found {
				cold++
				continue // new indicator — stays fresh
			}
			sn, ok := st.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := sn.UnmarshalState(is.State); err != nil {
				// Non-fatal: leave the kernel cold rather than failing the restore.
				log.Printf("[indicator] restore %s for %s:%d failed: %v — cold starting",
					st.Name(), ss.Symbol, ss.TF, err)
				st.Reset()
				cold++
				continue
			}
			restored++
		}
		if cold > 0 {
			log.Printf("[indicator] session %s:%d: restored %d, cold-started %d indicators",
				ss.Symbol, ss.TF, restored, cold)
		}

		e.sessions[ss.Symbol+":"+model.Itoa(ss.TF)] = sess
	}
	return e, nil
}
