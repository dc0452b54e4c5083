package device

import (
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
)

type VoltageSource struct {
	BaseDevice
	dcValue  float64
	waveform *Waveform // nil for pure DC
	// AC params
	acMag   float64
	acPhase float64 // degrees
	// Branch index for MNA
	branchIdx int
}

var (
	_ BranchDevice = (*VoltageSource)(nil)
	_ Source       = (*VoltageSource)(nil)
	_ Breakpointer = (*VoltageSource)(nil)
)

func NewDCVoltageSource(name string, nodeNames []string, value float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice: newBaseDevice(name, value, nodeNames),
		dcValue:    value,
	}
}

// NewVoltageSource builds a source with a transient waveform. The DC value
// is used by DC analyses; transient uses the waveform.
func NewVoltageSource(name string, nodeNames []string, dcValue float64, waveform *Waveform) *VoltageSource {
	v := NewDCVoltageSource(name, nodeNames, dcValue)
	v.waveform = waveform
	return v
}

func NewSinVoltageSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, offset, SinWaveform(offset, amplitude, freq, 0, 0, phase))
}

func NewPulseVoltageSource(name string, nodeNames []string, v1, v2, delay, rise, fall, pWidth, period float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, v1, PulseWaveform(v1, v2, delay, rise, fall, pWidth, period))
}

func NewPWLVoltageSource(name string, nodeNames []string, times []float64, values []float64) *VoltageSource {
	dc := 0.0
	if len(values) > 0 {
		dc = values[0]
	}
	return NewVoltageSource(name, nodeNames, dc, PWLWaveform(times, values))
}

func (v *VoltageSource) GetType() string { return "V" }

func (v *VoltageSource) SetAC(mag, phase float64) {
	v.acMag = mag
	v.acPhase = phase
}

func (v *VoltageSource) SetWaveform(w *Waveform) { v.waveform = w }

func (v *VoltageSource) Waveform() *Waveform { return v.waveform }

func (v *VoltageSource) Validate() error {
	if err := checkNodes(v.Name, v.NodeNames, 2); err != nil {
		return err
	}
	if err := checkFinite(v.Name, "dc", v.dcValue); err != nil {
		return err
	}
	if err := checkFinite(v.Name, "acmag", v.acMag); err != nil {
		return err
	}
	if v.waveform != nil {
		return v.waveform.validate(v.Name)
	}
	return nil
}

// GetVoltage is the source value at time t in transient analysis.
func (v *VoltageSource) GetVoltage(t float64) float64 {
	if v.waveform == nil {
		return v.dcValue
	}
	return v.waveform.At(t)
}

func (v *VoltageSource) valueAt(status *CircuitStatus) float64 {
	if status.Mode == TransientAnalysis || status.TranOP {
		return v.GetVoltage(status.Time) * status.SourceScale()
	}
	return status.dcValue(v, v.dcValue) * status.SourceScale()
}

func (v *VoltageSource) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	n1, n2 := v.Nodes[0], v.Nodes[1]

	if status.Mode == ACAnalysis {
		phaseRad := v.acPhase * math.Pi / 180.0
		matrix.StampVoltageSource(n1, n2, v.branchIdx, 0)
		matrix.AddComplexRHS(v.branchIdx, v.acMag*math.Cos(phaseRad), v.acMag*math.Sin(phaseRad))
		return nil
	}

	matrix.StampVoltageSource(n1, n2, v.branchIdx, v.valueAt(status))
	return nil
}

func (v *VoltageSource) Breakpoints(start, stop float64) []float64 {
	if v.waveform == nil {
		return nil
	}
	return v.waveform.Breakpoints(start, stop)
}

func (v *VoltageSource) BranchIndex() int { return v.branchIdx }

func (v *VoltageSource) SetBranchIndex(idx int) { v.branchIdx = idx }

func (v *VoltageSource) DCValue() float64 { return v.dcValue }

func (v *VoltageSource) SetDCValue(value float64) {
	v.Value = value
	v.dcValue = value
}
