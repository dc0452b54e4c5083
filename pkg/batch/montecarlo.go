package batch

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/netlist"
)

// Perturb returns a copy of data with every R, C and L value scaled by an
// independent uniform factor in [1-tol, 1+tol].
func Perturb(data *netlist.NetlistData, tol float64, rng *rand.Rand) *netlist.NetlistData {
	out := *data
	out.Elements = slices.Clone(data.Elements)
	for i := range out.Elements {
		switch out.Elements[i].Type {
		case "R", "C", "L":
			out.Elements[i].Value *= 1 + tol*(2*rng.Float64()-1)
		}
	}
	return &out
}

// DeckBuilder builds each trial from a perturbed copy of data. Trial 0 is
// the nominal circuit.
func DeckBuilder(data *netlist.NetlistData, tol float64) BuildFunc {
	return func(trial int, rng *rand.Rand) (*circuit.Circuit, error) {
		if trial == 0 || tol == 0 {
			return netlist.BuildCircuit(data)
		}
		return netlist.BuildCircuit(Perturb(data, tol, rng))
	}
}

type Summary struct {
	Signal string
	X      float64
	N      int // trials contributing
	Failed int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize samples signal at x in every successful trial.
func Summarize(trials []Trial, signal string, x float64) (Summary, error) {
	s := Summary{Signal: signal, X: x}
	var values []float64
	for _, t := range trials {
		if t.Err != nil || t.Result == nil {
			s.Failed++
			continue
		}
		v, err := t.Result.At(signal, x)
		if err != nil {
			return s, fmt.Errorf("trial %d: %w", t.Index, err)
		}
		values = append(values, v)
	}
	s.N = len(values)
	if s.N == 0 {
		s.Mean, s.StdDev, s.Min, s.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s, nil
	}

	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if s.N == 1 {
		s.StdDev = 0
	}
	s.Min, s.Max = floats.Min(values), floats.Max(values)
	return s, nil
}
