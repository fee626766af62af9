package indicator

import (
	"fmt"
	"sort"
)

// Kernel family identifiers. The registry is the single source of truth for
// the charting layer: adding a kernel means adding a Descriptor here, never
// touching call sites.
const (
	KindSMA   = "SMA"
	KindEMA   = "EMA"
	KindCOG   = "COG"
	KindRSI   = "RSI"
	KindStoch = "STOCH"
	KindWillR = "WILLR"
	KindCCI   = "CCI"
	KindMACD  = "MACD"
	KindBoll  = "BOLL"
	KindATR   = "ATR"
	KindVWAP  = "VWAP"
)

// Descriptor describes one registered kernel family.
type Descriptor struct {
	Kind    string
	Columns []string

	// Defaults are the parameters used when a spec omits them.
	Defaults Params

	// DefaultPeriods are the chart preset periods for single-period kernels
	// (empty where presets don't apply).
	DefaultPeriods []int

	// Sparse marks kernels that may omit points inside their output range
	// (VWAP omits points while cumulative volume is zero).
	Sparse bool

	Warmup   func(Params) int
	Validate func(Params) error
	New      func(Params) State
}

var registry = map[string]*Descriptor{}

func register(d *Descriptor) {
	if _, dup := registry[d.Kind]; dup {
		panic("indicator: duplicate kernel kind " + d.Kind)
	}
	registry[d.Kind] = d
}

func init() {
	register(&Descriptor{
		Kind:           KindSMA,
		Columns:        []string{"value"},
		Defaults:       Params{Period: 20},
		DefaultPeriods: []int{5, 10, 20, 50, 100, 200},
		Warmup:         func(p Params) int { return p.Period },
		Validate:       validatePeriod(KindSMA),
		New:            func(p Params) State { return NewSMA(p.Period) },
	})
	register(&Descriptor{
		Kind:           KindEMA,
		Columns:        []string{"value"},
		Defaults:       Params{Period: 20},
		DefaultPeriods: []int{5, 9, 12, 20, 26, 50},
		Warmup:         func(p Params) int { return p.Period },
		Validate:       validatePeriod(KindEMA),
		New:            func(p Params) State { return NewEMA(p.Period) },
	})
	register(&Descriptor{
		Kind:     KindCOG,
		Columns:  []string{"value"},
		Defaults: Params{Period: 10},
		Warmup:   func(p Params) int { return p.Period },
		Validate: validatePeriod(KindCOG),
		New:      func(p Params) State { return NewCOG(p.Period) },
	})
	register(&Descriptor{
		Kind:     KindRSI,
		Columns:  []string{"value"},
		Defaults: Params{Period: 14},
		Warmup:   func(p Params) int { return p.Period + 1 },
		Validate: validatePeriod(KindRSI),
		New:      func(p Params) State { return NewRSI(p.Period) },
	})
	register(&Descriptor{
		Kind:     KindStoch,
		Columns:  []string{"k", "d"},
		Defaults: Params{Period: 14, DPeriod: 3},
		Warmup:   func(p Params) int { return p.Period + p.DPeriod - 1 },
		Validate: func(p Params) error {
			if p.Period < 1 || p.DPeriod < 1 {
				return fmt.Errorf("%s: periods must be >= 1 (k=%d d=%d)", KindStoch, p.Period, p.DPeriod)
			}
			return nil
		},
		New: func(p Params) State { return NewStoch(p.Period, p.DPeriod) },
	})
	register(&Descriptor{
		Kind:     KindWillR,
		Columns:  []string{"value"},
		Defaults: Params{Period: 14},
		Warmup:   func(p Params) int { return p.Period },
		Validate: validatePeriod(KindWillR),
		New:      func(p Params) State { return NewWilliamsR(p.Period) },
	})
	register(&Descriptor{
		Kind:     KindCCI,
		Columns:  []string{"value"},
		Defaults: Params{Period: 20},
		Warmup:   func(p Params) int { return p.Period },
		Validate: validatePeriod(KindCCI),
		New:      func(p Params) State { return NewCCI(p.Period) },
	})
	register(&Descriptor{
		Kind:     KindMACD,
		Columns:  []string{"macd", "signal", "histogram"},
		Defaults: Params{Fast: 12, Slow: 26, Signal: 9},
		Warmup:   func(p Params) int { return p.Slow + p.Signal - 1 },
		Validate: func(p Params) error {
			if p.Fast < 1 || p.Slow < 1 || p.Signal < 1 {
				return fmt.Errorf("%s: periods must be >= 1 (fast=%d slow=%d signal=%d)",
					KindMACD, p.Fast, p.Slow, p.Signal)
			}
			if p.Fast >= p.Slow {
				return fmt.Errorf("%s: fast period %d must be shorter than slow period %d",
					KindMACD, p.Fast, p.Slow)
			}
			return nil
		},
		New: func(p Params) State { return NewMACD(p.Fast, p.Slow, p.Signal) },
	})
	register(&Descriptor{
		Kind:     KindBoll,
		Columns:  []string{"upper", "middle", "lower"},
		Defaults: Params{Period: 20, Mult: 2.0},
		Warmup:   func(p Params) int { return p.Period },
		Validate: func(p Params) error {
			if p.Period < 1 {
				return fmt.Errorf("%s: period must be >= 1, got %d", KindBoll, p.Period)
			}
			if p.Mult < 0 {
				return fmt.Errorf("%s: multiplier must be >= 0, got %g", KindBoll, p.Mult)
			}
			return nil
		},
		New: func(p Params) State { return NewBollinger(p.Period, p.Mult) },
	})
	register(&Descriptor{
		Kind:     KindATR,
		Columns:  []string{"value"},
		Defaults: Params{Period: 14},
		Warmup:   func(p Params) int { return p.Period + 1 },
		Validate: validatePeriod(KindATR),
		New:      func(p Params) State { return NewATR(p.Period) },
	})
	register(&Descriptor{
		Kind:     KindVWAP,
		Columns:  []string{"value"},
		Sparse:   true,
		Warmup:   func(Params) int { return 1 },
		Validate: func(Params) error { return nil },
		New:      func(Params) State { return NewVWAP() },
	})
}

func validatePeriod(kind string) func(Params) error {
	return func(p Params) error {
		if p.Period < 1 {
			return fmt.Errorf("%s: period must be >= 1, got %d", kind, p.Period)
		}
		return nil
	}
}

// Lookup returns the descriptor for a kernel kind.
func Lookup(kind string) (*Descriptor, bool) {
	d, ok := registry[kind]
	return d, ok
}

// Kinds returns all registered kernel kinds, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewState validates the spec and constructs a fresh kernel state for it.
func NewState(spec Spec) (State, error) {
	desc, ok := Lookup(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown indicator kind %q", spec.Kind)
	}
	if err := desc.Validate(spec.Params); err != nil {
		return nil, err
	}
	return desc.New(spec.Params), nil
}

// ValidateSpecs checks a spec list for unknown kinds, bad params and
// duplicate instance names.
func ValidateSpecs(specs []Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("no indicators requested")
	}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		desc, ok := Lookup(spec.Kind)
		if !ok {
			return fmt.Errorf("unknown indicator kind %q", spec.Kind)
		}
		if err := desc.Validate(spec.Params); err != nil {
			return err
		}
		name := spec.Name()
		if seen[name] {
			return fmt.Errorf("duplicate indicator %s", name)
		}
		seen[name] = true
	}
	return nil
}
