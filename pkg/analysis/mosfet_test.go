package analysis

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
)

func mosfet(name string, nodes []string, pmos bool, params map[string]float64) *device.Mosfet {
	m := device.NewMosfet(name, nodes)
	m.PMOS = pmos
	m.SetModelParameters(params)
	return m
}

// inverterCircuit is a symmetric CMOS inverter on a 5 V supply driven by vin.
func inverterCircuit(t *testing.T, vin device.Device, extra map[string]float64, load ...device.Device) *circuit.Circuit {
	n := map[string]float64{"vto": 1, "kp": 50e-6, "lambda": 0.02}
	p := map[string]float64{"vto": -1, "kp": 50e-6, "lambda": 0.02}
	for k, v := range extra {
		n[k], p[k] = v, v
	}
	devs := []device.Device{
		device.NewDCVoltageSource("VDD", []string{"vdd", "0"}, 5),
		vin,
		mosfet("M1", []string{"out", "in", "0", "0"}, false, n),
		mosfet("M2", []string{"out", "in", "vdd", "vdd"}, true, p),
	}
	return build(t, append(devs, load...)...)
}

func TestCMOSInverterTransfer(t *testing.T) {
	ckt := inverterCircuit(t, device.NewDCVoltageSource("VIN", []string{"in", "0"}, 0), nil)
	opts := DefaultOptions()
	res, err := Run(context.Background(), ckt, DCSweepRequest{Source: "VIN", Start: 0, Stop: 5, Step: 0.1}, opts)
	require.NoError(t, err)
	require.Len(t, res.Points, 51)
	assert.Zero(t, res.Stats.GminSteps)
	assert.Zero(t, res.Stats.SourceSteps)

	out, err := res.Voltage("out")
	require.NoError(t, err)
	assert.InDelta(t, 5, out[0], 1e-3)
	assert.InDelta(t, 0, out[50], 1e-3)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i], out[i-1]+1e-6, "vin=%g", res.Points[i].X)
	}
	for _, p := range res.Points[1 : len(res.Points)-1] {
		assert.Less(t, p.Iterations, opts.Itl1/4, "vin=%g", p.X)
	}

	// matched devices switch at half the supply
	mid, err := res.At("out", 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, mid, 0.05)
	below, err := res.At("out", 2.4)
	require.NoError(t, err)
	assert.Greater(t, below, 3.0)
	above, err := res.At("out", 2.6)
	require.NoError(t, err)
	assert.Less(t, above, 2.0)
}

func TestCMOSInverterTransient(t *testing.T) {
	for _, level := range []float64{device.Level1, device.LevelEKV} {
		t.Run("level "+formatLevel(level), func(t *testing.T) {
			vin := device.NewPulseVoltageSource("VIN", []string{"in", "0"}, 0, 5, 1e-6, 10e-9, 10e-9, 2e-6, 4e-6)
			ckt := inverterCircuit(t, vin, map[string]float64{"level": level, "tox": 1e-8},
				device.NewCapacitor("CL", []string{"out", "0"}, 1e-12))

			res, err := Run(context.Background(), ckt, TransientRequest{Step: 10e-9, Stop: 4e-6}, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, 4e-6, res.Points[len(res.Points)-1].X)

			for _, tt := range []struct {
				time   float64
				high   bool
				detail string
			}{
				{0.5e-6, true, "input low"},
				{2.5e-6, false, "input high"},
				{3.9e-6, true, "input low again"},
			} {
				v, err := res.At("out", tt.time)
				require.NoError(t, err)
				if tt.high {
					assert.Greater(t, v, 4.5, tt.detail)
				} else {
					assert.Less(t, v, 0.5, tt.detail)
				}
			}
		})
	}
}

func formatLevel(level float64) string {
	if level == device.LevelEKV {
		return "ekv"
	}
	return "1"
}

func TestCommonSourceGain(t *testing.T) {
	vg := device.NewDCVoltageSource("VG", []string{"g", "0"}, 2)
	vg.SetAC(1, 0)
	ckt := build(t,
		device.NewDCVoltageSource("VDD", []string{"vdd", "0"}, 5),
		vg,
		device.NewResistor("RD", []string{"vdd", "d"}, 10e3),
		mosfet("M1", []string{"d", "g", "0", "0"}, false, map[string]float64{"vto": 1, "kp": 200e-6, "tox": 1e-8}),
	)

	// 100 uA in saturation, gm = 200 uS
	op, err := Run(context.Background(), ckt, OPRequest{}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 4.0, op.OperatingPoint()["V(d)"], 1e-4)

	res, err := Run(context.Background(), ckt, ACRequest{FStart: 1e3, FStop: 1e3, Points: 1, Spacing: Linear}, DefaultOptions())
	require.NoError(t, err)
	mag, err := res.Magnitude("d")
	require.NoError(t, err)
	assert.InEpsilon(t, 2.0, mag[0], 1e-4)

	db, err := res.Decibel("d")
	require.NoError(t, err)
	assert.Greater(t, db[0], 0.0)

	phase, err := res.PhaseDeg("d")
	require.NoError(t, err)
	assert.InDelta(t, 180, math.Abs(phase[0]), 1e-3)
}
