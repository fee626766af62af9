package indicator

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Params holds the period(s) and smoothing/multiplier constants for one
// indicator instance. Fields unused by a kernel stay zero.
type Params struct {
	Period  int     `json:"period,omitempty"`
	DPeriod int     `json:"d_period,omitempty"` // stochastic %D smoothing
	Fast    int     `json:"fast,omitempty"`     // MACD fast EMA
	Slow    int     `json:"slow,omitempty"`     // MACD slow EMA
	Signal  int     `json:"signal,omitempty"`   // MACD signal EMA
	Mult    float64 `json:"mult,omitempty"`     // bollinger stddev multiplier
}

// Spec is one requested indicator instance: kernel kind + params.
type Spec struct {
	Kind   string `json:"kind"`
	Params Params `json:"params"`
}

// Name renders the canonical instance id, e.g. "SMA_20", "STOCH_14_3",
// "MACD_12_26_9", "BOLL_20_2". VWAP has no params and renders as "VWAP".
func (s Spec) Name() string {
	p := s.Params
	switch s.Kind {
	case KindStoch:
		return s.Kind + "_" + strconv.Itoa(p.Period) + "_" + strconv.Itoa(p.DPeriod)
	case KindMACD:
		return s.Kind + "_" + strconv.Itoa(p.Fast) + "_" + strconv.Itoa(p.Slow) + "_" + strconv.Itoa(p.Signal)
	case KindBoll:
		return s.Kind + "_" + strconv.Itoa(p.Period) + "_" + strconv.FormatFloat(p.Mult, 'f', -1, 64)
	case KindVWAP:
		return s.Kind
	default:
		return s.Kind + "_" + strconv.Itoa(p.Period)
	}
}

// ParseSpec parses one colon-separated indicator spec:
//
//	"SMA:20"  "STOCH:14:3"  "MACD:12:26:9"  "BOLL:20:2"  "VWAP"
//
// Omitted parameters fall back to the registry defaults for the kind.
func ParseSpec(s string) (Spec, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	kind := strings.ToUpper(strings.TrimSpace(parts[0]))
	desc, ok := Lookup(kind)
	if !ok {
		return Spec{}, fmt.Errorf("unknown indicator kind %q", kind)
	}

	args := make([]string, 0, len(parts)-1)
	for _, a := range parts[1:] {
		a = strings.TrimSpace(a)
		if a != "" {
			args = append(args, a)
		}
	}

	p := desc.Defaults
	geti := func(i int, dst *int) error {
		if i >= len(args) {
			return nil
		}
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return fmt.Errorf("%s: bad parameter %q", kind, args[i])
		}
		*dst = n
		return nil
	}

	var err error
	switch kind {
	case KindStoch:
		if err = geti(0, &p.Period); err == nil {
			err = geti(1, &p.DPeriod)
		}
	case KindMACD:
		if err = geti(0, &p.Fast); err == nil {
			if err = geti(1, &p.Slow); err == nil {
				err = geti(2, &p.Signal)
			}
		}
	case KindBoll:
		if err = geti(0, &p.Period); err == nil && len(args) > 1 {
			p.Mult, err = strconv.ParseFloat(args[1], 64)
			if err != nil {
				err = fmt.Errorf("%s: bad multiplier %q", kind, args[1])
			}
		}
	case KindVWAP:
		if len(args) > 0 {
			err = fmt.Errorf("%s takes no parameters", kind)
		}
	default:
		err = geti(0, &p.Period)
	}
	if err != nil {
		return Spec{}, err
	}

	spec := Spec{Kind: kind, Params: p}
	if err := desc.Validate(p); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// ParseSpecs parses a comma-separated spec list ("SMA:20,RSI:14,MACD:12:26:9"),
// skipping invalid entries. Returns the defaults when nothing parses.
func ParseSpecs(s string) []Spec {
	if strings.TrimSpace(s) == "" {
		return DefaultSpecs()
	}
	var specs []Spec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := ParseSpec(part)
		if err != nil {
			log.Printf("[indicator] skipping invalid spec %q: %v", part, err)
			continue
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		log.Println("[indicator] WARNING: no valid indicator specs parsed, using defaults")
		return DefaultSpecs()
	}
	return specs
}

// DefaultSpecs returns the registry default instance per kernel family.
func DefaultSpecs() []Spec {
	kinds := Kinds()
	specs := make([]Spec, 0, len(kinds))
	for _, k := range kinds {
		desc, _ := Lookup(k)
		specs = append(specs, Spec{Kind: k, Params: desc.Defaults})
	}
	return specs
}
