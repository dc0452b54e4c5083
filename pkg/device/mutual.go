package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
)

// Coupler links devices by name once the circuit is assembled.
type Coupler interface {
	Device
	InductorNames() []string
	Couple(l1, l2 *Inductor) error
}

// Mutual couples two inductors with M = k*sqrt(L1*L2). The coupling terms
// are stamped into the inductor branch rows.
type Mutual struct {
	BaseDevice
	names       []string
	coefficient float64
	inductors   [2]*Inductor
}

var _ Coupler = (*Mutual)(nil)

func NewMutual(name string, indNames []string, k float64) *Mutual {
	return &Mutual{
		BaseDevice:  BaseDevice{Name: name, Value: k},
		names:       indNames,
		coefficient: k,
	}
}

func (m *Mutual) GetType() string { return "K" }

func (m *Mutual) InductorNames() []string { return m.names }

func (m *Mutual) GetCoefficient() float64 { return m.coefficient }

func (m *Mutual) Validate() error {
	if len(m.names) != 2 {
		return &ParamError{Device: m.Name, Param: "inductors", Value: float64(len(m.names)), Reason: "requires exactly 2 inductors"}
	}
	if math.IsNaN(m.coefficient) || m.coefficient <= 0 || m.coefficient > 1 {
		return &ParamError{Device: m.Name, Param: "k", Value: m.coefficient, Reason: "must be in (0, 1]"}
	}
	return nil
}

func (m *Mutual) Couple(l1, l2 *Inductor) error {
	if l1 == nil || l2 == nil {
		return fmt.Errorf("mutual coupling %s: missing inductor", m.Name)
	}
	if l1 == l2 {
		return fmt.Errorf("mutual coupling %s: inductor %s coupled to itself", m.Name, l1.Name)
	}
	mh := m.coefficient * math.Sqrt(l1.Value*l2.Value)
	l1.couplings = append(l1.couplings, coupling{other: l2, m: mh})
	l2.couplings = append(l2.couplings, coupling{other: l1, m: mh})
	m.inductors = [2]*Inductor{l1, l2}
	return nil
}

// Mutual inductance in henries, valid after Couple.
func (m *Mutual) Inductance() float64 {
	if m.inductors[0] == nil {
		return 0
	}
	return m.coefficient * math.Sqrt(m.inductors[0].Value*m.inductors[1].Value)
}

func (m *Mutual) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	if m.inductors[0] == nil {
		return fmt.Errorf("mutual coupling %s: inductors not linked", m.Name)
	}
	return nil
}
