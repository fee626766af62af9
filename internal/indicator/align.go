package indicator

import "fmt"

// Alignment maps a kernel's output series back onto the input timestamp axis.
// Every kernel registers a single warm-up function; there are no per-call-site
// slicing offsets anywhere else in the engine.
type Alignment struct {
	// Warmup is the number of input candles consumed before the first output.
	Warmup int
}

// FirstIndex returns the input index of the first output point.
func (a Alignment) FirstIndex() int { return a.Warmup - 1 }

// OutputLen returns the expected output length for n input candles:
// n - warmup + 1, or 0 while there is insufficient history.
func (a Alignment) OutputLen(n int) int {
	if n < a.Warmup {
		return 0
	}
	return n - a.Warmup + 1
}

// AlignmentFor returns the alignment of one indicator instance.
func AlignmentFor(spec Spec) (Alignment, error) {
	desc, ok := Lookup(spec.Kind)
	if !ok {
		return Alignment{}, fmt.Errorf("unknown indicator kind %q", spec.Kind)
	}
	if err := desc.Validate(spec.Params); err != nil {
		return Alignment{}, err
	}
	return Alignment{Warmup: desc.Warmup(spec.Params)}, nil
}
