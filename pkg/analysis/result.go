package analysis

import (
	"fmt"
	"math/cmplx"
	"slices"
	"sort"
	"strings"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/util"
)

// Point is one converged real solution. Solution[i] is unknown i+1:
// node voltages first, then branch currents.
type Point struct {
	X          float64 // sweep value or time; 0 for the operating point
	Solution   []float64
	Iterations int
	Residual   float64 // largest Newton update in the final iteration
}

type ACPoint struct {
	Frequency float64
	Solution  []complex128
}

type Stats struct {
	Iterations    int
	GminSteps     int
	SourceSteps   int
	RejectedSteps int
}

// Result holds the ordered points of one run. It is not retained by the
// analysis after the run returns.
type Result struct {
	Analysis string
	Points   []Point
	ACPoints []ACPoint
	Stats    Stats

	nodeNames   []string // without ground
	branchNames []string
	index       map[string]int
}

func newResult(name string, ckt *circuit.Circuit) *Result {
	r := &Result{
		Analysis:    name,
		nodeNames:   append([]string(nil), ckt.NodeNames()[1:]...),
		branchNames: append([]string(nil), ckt.BranchNames()...),
		index:       make(map[string]int, ckt.Size()),
	}
	for i, n := range r.nodeNames {
		r.index["V("+n+")"] = i
	}
	for i, b := range r.branchNames {
		r.index["I("+strings.ToUpper(b)+")"] = len(r.nodeNames) + i
	}
	return r
}

// Names lists the unknowns in solution order.
func (r *Result) Names() []string {
	out := make([]string, 0, len(r.nodeNames)+len(r.branchNames))
	for _, n := range r.nodeNames {
		out = append(out, "V("+n+")")
	}
	for _, b := range r.branchNames {
		out = append(out, "I("+b+")")
	}
	return out
}

func (r *Result) NodeNames() []string { return r.nodeNames }

func (r *Result) BranchNames() []string { return r.branchNames }

// Index resolves "V(node)", "I(device)" or a bare node name to a solution
// index.
func (r *Result) Index(name string) (int, error) {
	name = strings.TrimSpace(name)
	if i, ok := r.index[name]; ok {
		return i, nil
	}
	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "I(") && strings.HasSuffix(upper, ")") {
		if i, ok := r.index[upper]; ok {
			return i, nil
		}
	}
	if strings.HasPrefix(upper, "V(") && strings.HasSuffix(name, ")") {
		name = name[2 : len(name)-1]
	}
	if i, ok := r.index["V("+name+")"]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("%w: no unknown named %q", ErrInvalidRequest, name)
}

// X returns the sweep values, times or frequencies of the points.
func (r *Result) X() []float64 {
	if len(r.ACPoints) > 0 {
		out := make([]float64, len(r.ACPoints))
		for i, p := range r.ACPoints {
			out[i] = p.Frequency
		}
		return out
	}
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.X
	}
	return out
}

// Series returns the real waveform of one unknown.
func (r *Result) Series(name string) ([]float64, error) {
	idx, err := r.Index(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Solution[idx]
	}
	return out, nil
}

func (r *Result) Voltage(node string) ([]float64, error) {
	return r.Series("V(" + node + ")")
}

// Current returns the branch current of a voltage source or inductor,
// positive into its first terminal.
func (r *Result) Current(dev string) ([]float64, error) {
	return r.Series("I(" + dev + ")")
}

// At interpolates an unknown linearly at x. Points must be monotonic in X
// and x outside their range reads the nearest end.
func (r *Result) At(name string, x float64) (float64, error) {
	ys, err := r.Series(name)
	if err != nil {
		return 0, err
	}
	xs := r.X()
	if len(xs) == 0 {
		return 0, fmt.Errorf("%w: empty result", ErrInvalidRequest)
	}
	// descending sweeps
	if xs[len(xs)-1] < xs[0] {
		slices.Reverse(xs)
		slices.Reverse(ys)
	}
	if x <= xs[0] {
		return ys[0], nil
	}
	if x >= xs[len(xs)-1] {
		return ys[len(ys)-1], nil
	}
	k := sort.SearchFloat64s(xs, x)
	x0, x1 := xs[k-1], xs[k]
	if x1 == x0 {
		return ys[k], nil
	}
	return ys[k-1] + (ys[k]-ys[k-1])*(x-x0)/(x1-x0), nil
}

// Phasor returns the AC response of one unknown.
func (r *Result) Phasor(name string) ([]complex128, error) {
	idx, err := r.Index(name)
	if err != nil {
		return nil, err
	}
	out := make([]complex128, len(r.ACPoints))
	for i, p := range r.ACPoints {
		out[i] = p.Solution[idx]
	}
	return out, nil
}

func (r *Result) Magnitude(name string) ([]float64, error) {
	return r.mapPhasor(name, cmplx.Abs)
}

func (r *Result) PhaseDeg(name string) ([]float64, error) {
	return r.mapPhasor(name, util.PhaseDeg)
}

func (r *Result) Decibel(name string) ([]float64, error) {
	return r.mapPhasor(name, util.Decibel)
}

func (r *Result) mapPhasor(name string, f func(complex128) float64) ([]float64, error) {
	ph, err := r.Phasor(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(ph))
	for i, c := range ph {
		out[i] = f(c)
	}
	return out, nil
}

// OperatingPoint maps every unknown of the first point to its value.
func (r *Result) OperatingPoint() map[string]float64 {
	out := make(map[string]float64)
	if len(r.Points) == 0 {
		return out
	}
	for i, name := range r.Names() {
		out[name] = r.Points[0].Solution[i]
	}
	return out
}

// Table flattens the result into columns keyed by unknown name. AC
// columns are split into NAME_MAG and NAME_PHASE (degrees).
func (r *Result) Table() map[string][]float64 {
	out := make(map[string][]float64)
	names := r.Names()
	if len(r.ACPoints) > 0 {
		out["FREQ"] = r.X()
		for i, name := range names {
			mag := make([]float64, len(r.ACPoints))
			phase := make([]float64, len(r.ACPoints))
			for k, p := range r.ACPoints {
				mag[k] = cmplx.Abs(p.Solution[i])
				phase[k] = util.PhaseDeg(p.Solution[i])
			}
			out[name+"_MAG"] = mag
			out[name+"_PHASE"] = phase
		}
		return out
	}
	switch r.Analysis {
	case "tran":
		out["TIME"] = r.X()
	case "dc":
		out["SWEEP"] = r.X()
	}
	for i, name := range names {
		col := make([]float64, len(r.Points))
		for k, p := range r.Points {
			col[k] = p.Solution[i]
		}
		out[name] = col
	}
	return out
}

// solutionVector drops the ground entry of a 1-based solution.
func solutionVector(x []float64) []float64 {
	return append([]float64(nil), x[1:]...)
}
