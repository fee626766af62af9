package indicator

import (
	"sync"

	"charting-systemv1/internal/model"
)

// ComputeSeries runs one indicator instance over a full candle series and
// returns the timestamp-aligned output. The input must be validated, ordered
// and deduplicated; a malformed candle fails the whole call, since silently
// skipping one would shift every downstream timestamp.
//
// Insufficient history is not an error: the result simply has no points.
func ComputeSeries(spec Spec, candles []model.Candle) (*model.IndicatorSeries, error) {
	desc, err := descriptorFor(spec)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateSeries(candles); err != nil {
		return nil, err
	}
	return computeOne(desc, spec, candles), nil
}

// ComputeBatch validates the series once and computes every requested
// indicator over it. Kernel invocations are pure and independent, so they
// run in parallel. The result maps instance id ("SMA_20") to its series.
func ComputeBatch(candles []model.Candle, specs []Spec) (map[string]*model.IndicatorSeries, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	if err := model.ValidateSeries(candles); err != nil {
		return nil, err
	}

	results := make([]*model.IndicatorSeries, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		desc, _ := Lookup(spec.Kind) // ValidateSpecs guarantees presence
		wg.Add(1)
		go func(i int, desc *Descriptor, spec Spec) {
			defer wg.Done()
			results[i] = computeOne(desc, spec, candles)
		}(i, desc, spec)
	}
	wg.Wait()

	out := make(map[string]*model.IndicatorSeries, len(specs))
	for _, s := range results {
		out[s.ID] = s
	}
	return out, nil
}

// computeOne replays a fresh kernel state over the series. Replaying the
// streaming kernel is what makes batch and streaming outputs bit-identical
// for the same input prefix.
func computeOne(desc *Descriptor, spec Spec, candles []model.Candle) *model.IndicatorSeries {
	st := desc.New(spec.Params)
	align := Alignment{Warmup: desc.Warmup(spec.Params)}

	series := &model.IndicatorSeries{
		ID:      spec.Name(),
		Kind:    spec.Kind,
		Columns: desc.Columns,
	}
	if n := align.OutputLen(len(candles)); n > 0 {
		series.Points = make([]model.Point, 0, n)
	}

	for i := range candles {
		vals, ok := st.Update(candles[i])
		if !ok {
			continue
		}
		series.Points = append(series.Points, model.Point{TS: candles[i].TS, Values: vals})
	}
	return series
}

func descriptorFor(spec Spec) (*Descriptor, error) {
	if _, err := AlignmentFor(spec); err != nil {
		return nil, err
	}
	desc, _ := Lookup(spec.Kind)
	return desc, nil
}
