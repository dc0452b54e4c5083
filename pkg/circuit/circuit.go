package circuit

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrDuplicateDevice = errors.New("duplicate device name")
	ErrNotBuilt        = errors.New("circuit not built")
	ErrFrozen          = errors.New("circuit already built")
)

// Circuit owns the device list and the node/branch numbering. It is
// assembled with Add and frozen by Build.
type Circuit struct {
	name string

	nodeMap     map[string]int
	nodeNames   []string // index 0 is ground
	branchMap   map[string]int
	branchNames []string // branch i is unknown numNodes+1+i

	devices          []device.Device
	deviceMap        map[string]device.Device
	nonlinearDevices []device.NonLinear
	reactiveDevices  []device.Reactive

	Models map[string]device.ModelParam
	built  bool
}

func New(name string) *Circuit {
	return &Circuit{
		name:      name,
		nodeMap:   make(map[string]int),
		nodeNames: []string{"0"},
		branchMap: make(map[string]int),
		deviceMap: make(map[string]device.Device),
		Models:    make(map[string]device.ModelParam),
	}
}

// IsGround reports whether a node name refers to the reference node.
func IsGround(name string) bool {
	return name == "0" || strings.EqualFold(name, "gnd")
}

func deviceKey(name string) string { return strings.ToUpper(name) }

func (c *Circuit) Add(devs ...device.Device) error {
	if c.built {
		return ErrFrozen
	}
	for _, dev := range devs {
		key := deviceKey(dev.GetName())
		if _, exists := c.deviceMap[key]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, dev.GetName())
		}
		c.deviceMap[key] = dev
		c.devices = append(c.devices, dev)
	}
	return nil
}

// Build numbers nodes in first-appearance order, assigns branch unknowns
// after the nodes in device order, links mutual couplings and validates
// every device.
func (c *Circuit) Build() error {
	if c.built {
		return ErrFrozen
	}

	for _, dev := range c.devices {
		if err := dev.Validate(); err != nil {
			return fmt.Errorf("validating device %s: %w", dev.GetName(), err)
		}
		for _, nodeName := range dev.GetNodeNames() {
			if IsGround(nodeName) {
				continue
			}
			if _, exists := c.nodeMap[nodeName]; !exists {
				c.nodeMap[nodeName] = len(c.nodeNames)
				c.nodeNames = append(c.nodeNames, nodeName)
			}
		}
	}

	numNodes := len(c.nodeNames) - 1
	for _, dev := range c.devices {
		nodeIndices := make([]int, len(dev.GetNodeNames()))
		for i, nodeName := range dev.GetNodeNames() {
			if IsGround(nodeName) {
				continue
			}
			nodeIndices[i] = c.nodeMap[nodeName]
		}
		dev.SetNodes(nodeIndices)

		if bd, ok := dev.(device.BranchDevice); ok {
			idx := numNodes + 1 + len(c.branchNames)
			bd.SetBranchIndex(idx)
			c.branchMap[deviceKey(dev.GetName())] = idx
			c.branchNames = append(c.branchNames, dev.GetName())
		}
		if nl, ok := dev.(device.NonLinear); ok {
			c.nonlinearDevices = append(c.nonlinearDevices, nl)
		}
		if r, ok := dev.(device.Reactive); ok {
			c.reactiveDevices = append(c.reactiveDevices, r)
		}
	}

	for _, dev := range c.devices {
		k, ok := dev.(device.Coupler)
		if !ok {
			continue
		}
		names := k.InductorNames()
		var inds [2]*device.Inductor
		for i := range inds {
			ind, ok := c.deviceMap[deviceKey(names[i])].(*device.Inductor)
			if !ok {
				return fmt.Errorf("coupling %s: %w: inductor %s", dev.GetName(), ErrUnknownDevice, names[i])
			}
			inds[i] = ind
		}
		if err := k.Couple(inds[0], inds[1]); err != nil {
			return err
		}
	}

	c.built = true
	return nil
}

func (c *Circuit) Name() string { return c.name }

func (c *Circuit) Built() bool { return c.built }

func (c *Circuit) NumNodes() int { return len(c.nodeNames) - 1 }

func (c *Circuit) NumBranches() int { return len(c.branchNames) }

// Size is the MNA dimension, nodes plus branches.
func (c *Circuit) Size() int { return c.NumNodes() + c.NumBranches() }

func (c *Circuit) Devices() []device.Device { return c.devices }

func (c *Circuit) NonLinearDevices() []device.NonLinear { return c.nonlinearDevices }

func (c *Circuit) IsNonLinear() bool { return len(c.nonlinearDevices) > 0 }

func (c *Circuit) Device(name string) (device.Device, bool) {
	dev, ok := c.deviceMap[deviceKey(name)]
	return dev, ok
}

// Source looks up an independent source whose DC value can be swept.
func (c *Circuit) Source(name string) (device.Source, error) {
	dev, ok := c.Device(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	src, ok := dev.(device.Source)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an independent source", ErrUnknownDevice, name)
	}
	return src, nil
}

func (c *Circuit) NodeIndex(name string) (int, bool) {
	if IsGround(name) {
		return 0, true
	}
	idx, ok := c.nodeMap[name]
	return idx, ok
}

func (c *Circuit) BranchIndex(deviceName string) (int, bool) {
	idx, ok := c.branchMap[deviceKey(deviceName)]
	return idx, ok
}

// NodeNames lists node names by index; entry 0 is ground.
func (c *Circuit) NodeNames() []string { return c.nodeNames }

func (c *Circuit) BranchNames() []string { return c.branchNames }

// UnknownName labels a solution index as V(node) or I(device).
func (c *Circuit) UnknownName(idx int) string {
	switch {
	case idx >= 0 && idx < len(c.nodeNames):
		return fmt.Sprintf("V(%s)", c.nodeNames[idx])
	case idx > c.NumNodes() && idx <= c.Size():
		return fmt.Sprintf("I(%s)", c.branchNames[idx-c.NumNodes()-1])
	}
	return fmt.Sprintf("x%d", idx)
}

// Stamp lets every device add its contribution in device order.
func (c *Circuit) Stamp(m matrix.DeviceMatrix, voltages []float64, status *device.CircuitStatus) error {
	if !c.built {
		return ErrNotBuilt
	}
	for _, dev := range c.devices {
		if err := dev.Stamp(m, voltages, status); err != nil {
			return fmt.Errorf("stamping device %s: %w", dev.GetName(), err)
		}
	}
	return nil
}

// UpdateHistory commits an accepted timepoint to every device.
func (c *Circuit) UpdateHistory(voltages []float64, status *device.CircuitStatus) {
	for _, dev := range c.devices {
		dev.UpdateHistory(voltages, status)
	}
}

// TruncationRatio is the largest local truncation error ratio over the
// reactive devices.
func (c *Circuit) TruncationRatio(voltages []float64, status *device.CircuitStatus, tol device.Tolerance) float64 {
	ratio := 0.0
	for _, r := range c.reactiveDevices {
		ratio = math.Max(ratio, r.TruncationRatio(voltages, status, tol))
	}
	return ratio
}

// Breakpoints merges the waveform corners of all sources in (start, stop].
func (c *Circuit) Breakpoints(start, stop float64) []float64 {
	var bps []float64
	for _, dev := range c.devices {
		if bp, ok := dev.(device.Breakpointer); ok {
			bps = append(bps, bp.Breakpoints(start, stop)...)
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

// Reset clears the history and linearization state of every device.
func (c *Circuit) Reset() {
	for _, dev := range c.devices {
		dev.Reset()
	}
}

// NewMatrix allocates an MNA system sized for this circuit.
func (c *Circuit) NewMatrix(isComplex bool) *matrix.CircuitMatrix {
	return matrix.NewMatrix(c.Size(), c.NumNodes(), isComplex)
}

// GetSolution maps a solution vector to V(node) and I(device) labels.
// Branch currents are reported flowing into the positive terminal.
func (c *Circuit) GetSolution(solution []float64) map[string]float64 {
	out := make(map[string]float64, c.Size())
	for i := 1; i <= c.Size() && i < len(solution); i++ {
		out[c.UnknownName(i)] = solution[i]
	}
	return out
}
