package device

import (
	"math"
	"sort"
)

type SourceType int

const (
	DC SourceType = iota
	SIN
	PULSE
	PWL
)

func (t SourceType) String() string {
	switch t {
	case SIN:
		return "sin"
	case PULSE:
		return "pulse"
	case PWL:
		return "pwl"
	default:
		return "dc"
	}
}

// Waveform is the time function of an independent source.
type Waveform struct {
	Type SourceType

	// SIN(offset amplitude freq delay damping phase)
	Offset    float64
	Amplitude float64
	Freq      float64
	Damping   float64
	Phase     float64 // degrees

	// PULSE(v1 v2 delay rise fall width period)
	V1     float64
	V2     float64
	Delay  float64 // shared with SIN
	Rise   float64
	Fall   float64
	PWidth float64
	Period float64

	// PWL(t1 v1 t2 v2 ...)
	Times  []float64
	Values []float64
}

const maxBreakpoints = 100000

func SinWaveform(offset, amplitude, freq, delay, damping, phase float64) *Waveform {
	return &Waveform{Type: SIN, Offset: offset, Amplitude: amplitude, Freq: freq, Delay: delay, Damping: damping, Phase: phase}
}

func PulseWaveform(v1, v2, delay, rise, fall, pWidth, period float64) *Waveform {
	return &Waveform{Type: PULSE, V1: v1, V2: v2, Delay: delay, Rise: rise, Fall: fall, PWidth: pWidth, Period: period}
}

func PWLWaveform(times, values []float64) *Waveform {
	return &Waveform{Type: PWL, Times: times, Values: values}
}

func (w *Waveform) validate(dev string) error {
	switch w.Type {
	case SIN:
		for _, p := range []struct {
			name string
			v    float64
		}{{"freq", w.Freq}, {"delay", w.Delay}, {"damping", w.Damping}} {
			if err := checkNonNegative(dev, p.name, p.v); err != nil {
				return err
			}
		}
	case PULSE:
		for _, p := range []struct {
			name string
			v    float64
		}{{"delay", w.Delay}, {"rise", w.Rise}, {"fall", w.Fall}, {"pw", w.PWidth}, {"period", w.Period}} {
			if err := checkNonNegative(dev, p.name, p.v); err != nil {
				return err
			}
		}
	case PWL:
		if len(w.Times) == 0 || len(w.Times) != len(w.Values) {
			return &ParamError{Device: dev, Param: "pwl", Value: float64(len(w.Times)), Reason: "needs matching time/value pairs"}
		}
		for i := 1; i < len(w.Times); i++ {
			if w.Times[i] <= w.Times[i-1] {
				return &ParamError{Device: dev, Param: "pwl", Value: w.Times[i], Reason: "times must increase"}
			}
		}
	}
	return nil
}

// At evaluates the waveform at time t.
func (w *Waveform) At(t float64) float64 {
	switch w.Type {
	case SIN:
		return w.sinAt(t)
	case PULSE:
		return w.pulseAt(t)
	case PWL:
		return w.pwlAt(t)
	}
	return 0
}

func (w *Waveform) sinAt(t float64) float64 {
	phaseRad := w.Phase * math.Pi / 180.0
	if t < w.Delay {
		return w.Offset + w.Amplitude*math.Sin(phaseRad)
	}
	td := t - w.Delay
	return w.Offset + w.Amplitude*math.Exp(-td*w.Damping)*math.Sin(2.0*math.Pi*w.Freq*td+phaseRad)
}

func (w *Waveform) pulseAt(t float64) float64 {
	if t < w.Delay {
		return w.V1
	}

	t -= w.Delay
	if w.Period > 0 {
		t = math.Mod(t, w.Period)
	}

	switch {
	case t < w.Rise:
		return w.V1 + (w.V2-w.V1)*t/w.Rise
	case t < w.Rise+w.PWidth:
		return w.V2
	case t < w.Rise+w.PWidth+w.Fall:
		return w.V2 - (w.V2-w.V1)*(t-w.Rise-w.PWidth)/w.Fall
	}
	return w.V1
}

func (w *Waveform) pwlAt(t float64) float64 {
	last := len(w.Times) - 1
	if t <= w.Times[0] {
		return w.Values[0]
	}
	if t >= w.Times[last] {
		return w.Values[last]
	}
	i := sort.SearchFloat64s(w.Times, t)
	t1, t2 := w.Times[i-1], w.Times[i]
	v1, v2 := w.Values[i-1], w.Values[i]
	return v1 + (v2-v1)*(t-t1)/(t2-t1)
}

// Breakpoints lists slope discontinuities in (start, stop].
func (w *Waveform) Breakpoints(start, stop float64) []float64 {
	var bps []float64
	add := func(t float64) bool {
		if t > start && t <= stop {
			bps = append(bps, t)
		}
		return len(bps) < maxBreakpoints
	}

	switch w.Type {
	case SIN:
		if w.Delay > 0 {
			add(w.Delay)
		}
	case PULSE:
		edges := []float64{0, w.Rise, w.Rise + w.PWidth, w.Rise + w.PWidth + w.Fall}
		for base := w.Delay; base <= stop; base += w.Period {
			for _, e := range edges {
				if !add(base + e) {
					return bps
				}
			}
			if w.Period <= 0 {
				break
			}
		}
	case PWL:
		for _, t := range w.Times {
			add(t)
		}
	}

	sort.Float64s(bps)
	out := bps[:0]
	for i, t := range bps {
		if i == 0 || t != bps[i-1] {
			out = append(out, t)
		}
	}
	return out
}
