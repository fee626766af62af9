package indicator

// Window maintains a fixed-size rolling window over pushed values with O(1)
// rolling sum and weighted sum, and O(1) amortized min/max via monotonic
// deques. It is the shared primitive behind every fixed-period kernel.
//
// The aggregate accessors are only meaningful once Ready() is true: they
// then cover exactly the last `period` pushed values.
type Window struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // total values pushed
	sum    float64
	wsum   float64 // linearly-weighted sum: oldest weight 1 … newest weight period

	// Monotonic deques of (seq, value). minq ascending values, maxq descending.
	minq []winEntry
	maxq []winEntry
}

type winEntry struct {
	seq int
	val float64
}

// NewWindow creates a rolling window of the given period (period >= 1).
func NewWindow(period int) *Window {
	return &Window{
		period: period,
		buf:    make([]float64, period),
	}
}

// Push appends a value, evicting the oldest once the window is full.
func (w *Window) Push(v float64) {
	if w.count >= w.period {
		// Weighted sum shift: every surviving weight drops by one, the
		// evicted value carried weight 1, the new value enters at `period`.
		w.wsum = w.wsum - w.sum + float64(w.period)*v
		w.sum -= w.buf[w.idx]
	} else {
		w.wsum += float64(w.count+1) * v
	}

	w.buf[w.idx] = v
	w.sum += v
	w.idx = (w.idx + 1) % w.period
	w.count++

	seq := w.count // 1-based sequence of this push
	expired := seq - w.period

	// Expire entries that fell out of the window.
	for len(w.minq) > 0 && w.minq[0].seq <= expired {
		w.minq = w.minq[1:]
	}
	for len(w.maxq) > 0 && w.maxq[0].seq <= expired {
		w.maxq = w.maxq[1:]
	}

	// Maintain monotonicity.
	for len(w.minq) > 0 && w.minq[len(w.minq)-1].val >= v {
		w.minq = w.minq[:len(w.minq)-1]
	}
	w.minq = append(w.minq, winEntry{seq, v})

	for len(w.maxq) > 0 && w.maxq[len(w.maxq)-1].val <= v {
		w.maxq = w.maxq[:len(w.maxq)-1]
	}
	w.maxq = append(w.maxq, winEntry{seq, v})
}

// Ready reports whether at least `period` values have been pushed.
func (w *Window) Ready() bool { return w.count >= w.period }

// Len returns the current number of values in the window.
func (w *Window) Len() int {
	if w.count < w.period {
		return w.count
	}
	return w.period
}

// Sum returns the rolling sum over the window.
func (w *Window) Sum() float64 { return w.sum }

// Mean returns the arithmetic mean over a full window.
func (w *Window) Mean() float64 { return w.sum / float64(w.period) }

// Min returns the minimum over the window.
func (w *Window) Min() float64 { return w.minq[0].val }

// Max returns the maximum over the window.
func (w *Window) Max() float64 { return w.maxq[0].val }

// WeightedSum returns the linearly-weighted rolling sum, newest weighted
// heaviest (weight = period) down to 1 for the oldest.
func (w *Window) WeightedSum() float64 { return w.wsum }

// Values appends the window contents oldest→newest to dst and returns it.
func (w *Window) Values(dst []float64) []float64 {
	n := w.Len()
	start := w.idx - n
	for i := 0; i < n; i++ {
		dst = append(dst, w.buf[((start+i)%w.period+w.period)%w.period])
	}
	return dst
}

// PeekSum returns what Sum() would be after pushing v, without mutating.
func (w *Window) PeekSum(v float64) float64 {
	if w.count >= w.period {
		return w.sum - w.buf[w.idx] + v
	}
	return w.sum + v
}

// PeekMin returns what Min() would be after pushing v, without mutating.
func (w *Window) PeekMin(v float64) float64 {
	m := v
	expired := w.count + 1 - w.period
	for _, e := range w.minq {
		if e.seq > expired {
			if e.val < m {
				m = e.val
			}
			break // front-most surviving entry is the deque minimum
		}
	}
	return m
}

// PeekMax returns what Max() would be after pushing v, without mutating.
func (w *Window) PeekMax(v float64) float64 {
	m := v
	expired := w.count + 1 - w.period
	for _, e := range w.maxq {
		if e.seq > expired {
			if e.val > m {
				m = e.val
			}
			break
		}
	}
	return m
}

// Reset clears the window for reuse.
func (w *Window) Reset() {
	w.idx = 0
	w.count = 0
	w.sum = 0
	w.wsum = 0
	w.minq = w.minq[:0]
	w.maxq = w.maxq[:0]
	for i := range w.buf {
		w.buf[i] = 0
	}
}

// snapshot returns the window contents oldest→newest for persistence.
func (w *Window) snapshot() []float64 {
	return w.Values(make([]float64, 0, w.Len()))
}

// restore rebuilds the window (including deques) by replaying values.
func (w *Window) restore(values []float64) {
	w.Reset()
	for _, v := range values {
		w.Push(v)
	}
}
