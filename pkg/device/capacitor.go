package device

import (
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
)

type Capacitor struct {
	BaseDevice
	IC    float64 // initial voltage, used with UseIC
	HasIC bool

	state chargeState
}

var _ Reactive = (*Capacitor)(nil)

func NewCapacitor(name string, nodeNames []string, value float64) *Capacitor {
	return &Capacitor{BaseDevice: newBaseDevice(name, value, nodeNames)}
}

func (c *Capacitor) GetType() string { return "C" }

func (c *Capacitor) SetIC(v float64) {
	c.IC = v
	c.HasIC = true
}

func (c *Capacitor) Validate() error {
	if err := checkNodes(c.Name, c.NodeNames, 2); err != nil {
		return err
	}
	if err := checkNonNegative(c.Name, "c", c.Value); err != nil {
		return err
	}
	return checkFinite(c.Name, "ic", c.IC)
}

func (c *Capacitor) Reset() { c.state = chargeState{} }

func (c *Capacitor) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	n1, n2 := c.Nodes[0], c.Nodes[1]

	switch status.Mode {
	case ACAnalysis:
		omega := 2 * math.Pi * status.Frequency
		matrix.StampAdmittance(n1, n2, 0, omega*c.Value)

	case TransientAnalysis:
		vd := voltageAcross(voltages, n1, n2)
		geq, ceq := c.state.companion(status, vd, c.Value*vd, c.Value)
		matrix.StampConductance(n1, n2, geq)
		matrix.StampCurrentSource(n1, n2, ceq)
	}
	// DC: open circuit

	return nil
}

func (c *Capacitor) UpdateHistory(voltages []float64, status *CircuitStatus) {
	vd := voltageAcross(voltages, c.Nodes[0], c.Nodes[1])
	if status.InitTran {
		if status.UseIC && c.HasIC {
			vd = c.IC
		}
		c.state.seed(vd, c.Value*vd)
		return
	}
	c.state.accept(status, vd, c.Value*vd)
}

func (c *Capacitor) TruncationRatio(voltages []float64, status *CircuitStatus, tol Tolerance) float64 {
	vd := voltageAcross(voltages, c.Nodes[0], c.Nodes[1])
	return c.state.truncationRatio(status, vd, c.Value*vd, c.Value, tol.Vntol, tol)
}

// Current is the capacitor current at the last accepted timepoint.
func (c *Capacitor) Current() float64 { return c.state.iPrev }
