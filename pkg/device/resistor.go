package device

import (
	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type Resistor struct {
	BaseDevice
	Tc1  float64 // 1st order temperature coefficient
	Tc2  float64 // 2nd order temperature coefficient
	Tnom float64 // degC
}

func NewResistor(name string, nodeNames []string, value float64) *Resistor {
	return &Resistor{
		BaseDevice: newBaseDevice(name, value, nodeNames),
		Tnom:       consts.TNOM,
	}
}

func (r *Resistor) GetType() string { return "R" }

func (r *Resistor) Validate() error {
	if err := checkNodes(r.Name, r.NodeNames, 2); err != nil {
		return err
	}
	if err := checkPositive(r.Name, "r", r.Value); err != nil {
		return err
	}
	if err := checkFinite(r.Name, "tc1", r.Tc1); err != nil {
		return err
	}
	return checkFinite(r.Name, "tc2", r.Tc2)
}

func (r *Resistor) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	n1, n2 := r.Nodes[0], r.Nodes[1]
	g := r.Conductance(status.Temp)

	if status.Mode == ACAnalysis {
		matrix.StampAdmittance(n1, n2, g, 0)
		return nil
	}
	matrix.StampConductance(n1, n2, g)
	return nil
}

// Conductance at temp (degC).
func (r *Resistor) Conductance(temp float64) float64 {
	dt := temp - r.Tnom
	factor := 1.0 + r.Tc1*dt + r.Tc2*dt*dt
	if factor <= 0 {
		factor = 1e-6
	}
	return 1.0 / (r.Value * factor)
}
