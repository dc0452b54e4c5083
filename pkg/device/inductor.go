package device

import (
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
	"github.com/edp1096/spicecore/pkg/util"
)

// Inductor is formulated with its own branch current unknown.
// Row b reads v(n1) - v(n2) - dflux/dt = 0.
type Inductor struct {
	BaseDevice
	IC    float64 // initial current, used with UseIC
	HasIC bool

	branchIdx int
	couplings []coupling
	state     chargeState
}

type coupling struct {
	other *Inductor
	m     float64 // mutual inductance (H)
}

var (
	_ BranchDevice = (*Inductor)(nil)
	_ Reactive     = (*Inductor)(nil)
)

func NewInductor(name string, nodeNames []string, value float64) *Inductor {
	return &Inductor{BaseDevice: newBaseDevice(name, value, nodeNames)}
}

func (l *Inductor) GetType() string { return "L" }

func (l *Inductor) SetIC(i float64) {
	l.IC = i
	l.HasIC = true
}

func (l *Inductor) BranchIndex() int { return l.branchIdx }

func (l *Inductor) SetBranchIndex(idx int) { l.branchIdx = idx }

func (l *Inductor) Validate() error {
	if err := checkNodes(l.Name, l.NodeNames, 2); err != nil {
		return err
	}
	if err := checkPositive(l.Name, "l", l.Value); err != nil {
		return err
	}
	return checkFinite(l.Name, "ic", l.IC)
}

func (l *Inductor) Reset() { l.state = chargeState{} }

func (l *Inductor) flux(currentOf func(*Inductor) float64) float64 {
	phi := l.Value * currentOf(l)
	for _, k := range l.couplings {
		phi += k.m * currentOf(k.other)
	}
	return phi
}

func (l *Inductor) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	n1, n2, b := l.Nodes[0], l.Nodes[1], l.branchIdx

	// KCL coupling and branch row v(n1) - v(n2), RHS 0
	matrix.StampVoltageSource(n1, n2, b, 0)

	switch status.Mode {
	case ACAnalysis:
		omega := 2 * math.Pi * status.Frequency
		matrix.AddComplexElement(b, b, 0, -omega*l.Value)
		for _, k := range l.couplings {
			matrix.AddComplexElement(b, k.other.branchIdx, 0, -omega*k.m)
		}

	case TransientAnalysis:
		v0, ag := util.Integrate(status.Method, status.TimeStep, 0, l.state.qPrev, l.state.iPrev, 1)
		matrix.AddElement(b, b, -ag*l.Value)
		for _, k := range l.couplings {
			matrix.AddElement(b, k.other.branchIdx, -ag*k.m)
		}
		matrix.AddRHS(b, v0)
	}
	// DC: short circuit

	return nil
}

func (l *Inductor) UpdateHistory(voltages []float64, status *CircuitStatus) {
	if status.InitTran {
		initial := func(ind *Inductor) float64 {
			if status.UseIC && ind.HasIC {
				return ind.IC
			}
			return voltageAt(voltages, ind.branchIdx)
		}
		l.state.seed(initial(l), l.flux(initial))
		return
	}
	i := voltageAt(voltages, l.branchIdx)
	l.state.accept(status, i, l.flux(branchCurrent(voltages)))
}

func (l *Inductor) TruncationRatio(voltages []float64, status *CircuitStatus, tol Tolerance) float64 {
	i := voltageAt(voltages, l.branchIdx)
	return l.state.truncationRatio(status, i, l.flux(branchCurrent(voltages)), l.Value, tol.Abstol, tol)
}

// Current is the branch current at the last accepted timepoint.
func (l *Inductor) Current() float64 { return l.state.xPrev }

func branchCurrent(solution []float64) func(*Inductor) float64 {
	return func(ind *Inductor) float64 { return voltageAt(solution, ind.branchIdx) }
}
