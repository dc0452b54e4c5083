package device

import (
	"github.com/edp1096/spicecore/pkg/matrix"
	"github.com/edp1096/spicecore/pkg/util"
)

// Device is implemented only by the element types of this package.
type Device interface {
	GetName() string
	GetType() string
	GetNodeNames() []string
	GetNodes() []int
	SetNodes(nodes []int)

	Validate() error
	// Stamp linearizes the device at voltages (1-based, voltages[0] is
	// ground) and adds its contribution to matrix.
	Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error
	// UpdateHistory commits the state at an accepted timepoint.
	UpdateHistory(voltages []float64, status *CircuitStatus)
	// Reset clears history and linearization state before a run.
	Reset()

	isDevice()
}

// BranchDevice owns extra current unknowns appended after the nodes.
type BranchDevice interface {
	Device
	BranchIndex() int
	SetBranchIndex(idx int)
}

// NonLinear devices need Newton iteration.
type NonLinear interface {
	Device
	nonLinear()
}

// Reactive devices carry charge or flux state integrated in transient.
type Reactive interface {
	Device
	// TruncationRatio is the estimated local truncation error of the step
	// that produced voltages, relative to its tolerance.
	TruncationRatio(voltages []float64, status *CircuitStatus, tol Tolerance) float64
}

// Source is an independent source whose DC value can be swept.
type Source interface {
	Device
	DCValue() float64
	SetDCValue(value float64)
}

// Breakpointer reports waveform corners inside (start, stop].
type Breakpointer interface {
	Device
	Breakpoints(start, stop float64) []float64
}

type BaseDevice struct {
	Name      string
	Nodes     []int
	Value     float64
	NodeNames []string
}

type ModelParam struct {
	Type   string
	Name   string
	Params map[string]float64
}

type AnalysisMode int

const (
	OperatingPointAnalysis AnalysisMode = iota
	DCSweep
	ACAnalysis
	TransientAnalysis
)

func (m AnalysisMode) String() string {
	switch m {
	case DCSweep:
		return "dc"
	case ACAnalysis:
		return "ac"
	case TransientAnalysis:
		return "tran"
	default:
		return "op"
	}
}

// Tolerance controls the transient truncation error estimate.
type Tolerance struct {
	Reltol float64
	Vntol  float64
	Abstol float64
	Trtol  float64
}

type CircuitStatus struct {
	Time      float64
	TimeStep  float64
	Gmin      float64 // junction shunt conductance
	Mode      AnalysisMode
	Method    util.IntegrationMethod
	Temp      float64 // degC
	Frequency float64 // AC frequency

	// source stepping
	SourceStepping bool
	SrcFact        float64

	UseIC    bool // initial transient state from device IC values
	InitTran bool // history is being seeded at t=start
	TranOP   bool // DC solve seeding a transient run; sources use their t=0 value

	// DC sweep: Swept reads SweepValue in place of its DC value
	Swept      Source
	SweepValue float64

	// Noncon counts devices that limited a junction voltage in this pass.
	Noncon int
}

// SourceScale is the factor applied to independent source values.
func (s *CircuitStatus) SourceScale() float64 {
	if s.SourceStepping {
		return s.SrcFact
	}
	return 1
}

// dcValue is the DC value src uses in this pass.
func (s *CircuitStatus) dcValue(src Source, nominal float64) float64 {
	if s.Swept != nil && s.Swept == src {
		return s.SweepValue
	}
	return nominal
}

func (s *CircuitStatus) IsDC() bool {
	return s.Mode == OperatingPointAnalysis || s.Mode == DCSweep
}

func (d *BaseDevice) GetName() string { return d.Name }

func (d *BaseDevice) GetNodes() []int { return d.Nodes }

func (d *BaseDevice) GetNodeNames() []string { return d.NodeNames }

func (d *BaseDevice) GetValue() float64 { return d.Value }

func (d *BaseDevice) SetNodes(nodes []int) { d.Nodes = nodes }

func (d *BaseDevice) UpdateHistory(voltages []float64, status *CircuitStatus) {}

func (d *BaseDevice) Reset() {}

func (d *BaseDevice) isDevice() {}

func newBaseDevice(name string, value float64, nodeNames []string) BaseDevice {
	return BaseDevice{
		Name:      name,
		Value:     value,
		NodeNames: nodeNames,
		Nodes:     make([]int, len(nodeNames)),
	}
}

// voltageAt reads a node voltage; ground and unset nodes read 0.
func voltageAt(voltages []float64, node int) float64 {
	if node <= 0 || node >= len(voltages) {
		return 0
	}
	return voltages[node]
}

func voltageAcross(voltages []float64, n1, n2 int) float64 {
	return voltageAt(voltages, n1) - voltageAt(voltages, n2)
}
