package device

import (
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
)

// CurrentSource drives its value from the first node through the source
// into the second node.
type CurrentSource struct {
	BaseDevice
	dcValue  float64
	waveform *Waveform
	// AC params
	acMag   float64
	acPhase float64
}

var (
	_ Source       = (*CurrentSource)(nil)
	_ Breakpointer = (*CurrentSource)(nil)
)

func NewDCCurrentSource(name string, nodeNames []string, value float64) *CurrentSource {
	return &CurrentSource{
		BaseDevice: newBaseDevice(name, value, nodeNames),
		dcValue:    value,
	}
}

func NewCurrentSource(name string, nodeNames []string, dcValue float64, waveform *Waveform) *CurrentSource {
	i := NewDCCurrentSource(name, nodeNames, dcValue)
	i.waveform = waveform
	return i
}

func (i *CurrentSource) GetType() string { return "I" }

func (i *CurrentSource) SetAC(mag, phase float64) {
	i.acMag = mag
	i.acPhase = phase
}

func (i *CurrentSource) SetWaveform(w *Waveform) { i.waveform = w }

func (i *CurrentSource) Validate() error {
	if err := checkNodes(i.Name, i.NodeNames, 2); err != nil {
		return err
	}
	if err := checkFinite(i.Name, "dc", i.dcValue); err != nil {
		return err
	}
	if i.waveform != nil {
		return i.waveform.validate(i.Name)
	}
	return nil
}

func (i *CurrentSource) GetCurrent(t float64) float64 {
	if i.waveform == nil {
		return i.dcValue
	}
	return i.waveform.At(t)
}

func (i *CurrentSource) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	n1, n2 := i.Nodes[0], i.Nodes[1]

	switch {
	case status.Mode == ACAnalysis:
		phaseRad := i.acPhase * math.Pi / 180.0
		matrix.StampComplexCurrentSource(n1, n2, i.acMag*math.Cos(phaseRad), i.acMag*math.Sin(phaseRad))
	case status.Mode == TransientAnalysis || status.TranOP:
		matrix.StampCurrentSource(n1, n2, i.GetCurrent(status.Time)*status.SourceScale())
	default:
		matrix.StampCurrentSource(n1, n2, status.dcValue(i, i.dcValue)*status.SourceScale())
	}
	return nil
}

func (i *CurrentSource) Breakpoints(start, stop float64) []float64 {
	if i.waveform == nil {
		return nil
	}
	return i.waveform.Breakpoints(start, stop)
}

func (i *CurrentSource) DCValue() float64 { return i.dcValue }

func (i *CurrentSource) SetDCValue(value float64) {
	i.Value = value
	i.dcValue = value
}
