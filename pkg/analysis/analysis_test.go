package analysis

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
)

func build(t *testing.T, devs ...device.Device) *circuit.Circuit {
	t.Helper()
	ckt := circuit.New(t.Name())
	require.NoError(t, ckt.Add(devs...))
	require.NoError(t, ckt.Build())
	return ckt
}

func dividerCircuit(t *testing.T) *circuit.Circuit {
	return build(t,
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "A"}, 1000),
		device.NewResistor("R2", []string{"A", "0"}, 2000),
	)
}

func diodeCircuit(t *testing.T) *circuit.Circuit {
	return build(t,
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 5),
		device.NewResistor("R1", []string{"in", "a"}, 1000),
		device.NewDiode("D1", []string{"a", "0"}),
	)
}

func rcCircuit(t *testing.T) *circuit.Circuit {
	return build(t,
		device.NewPulseVoltageSource("V1", []string{"in", "0"}, 0, 5, 0, 1e-6, 1e-6, 1, 2),
		device.NewResistor("R1", []string{"in", "a"}, 10e3),
		device.NewCapacitor("C1", []string{"a", "0"}, 1e-6),
	)
}

func TestOperatingPointDivider(t *testing.T) {
	ckt := dividerCircuit(t)
	op := NewOP(DefaultOptions())
	require.NoError(t, op.Setup(ckt))
	require.NoError(t, op.Execute(context.Background()))
	assert.Equal(t, Completed, op.State())

	res := op.GetResults()
	require.Len(t, res.Points, 1)
	assert.Equal(t, 1, res.Points[0].Iterations)
	assert.Len(t, res.Points[0].Solution, ckt.NumNodes()+ckt.NumBranches())

	va := res.OperatingPoint()["V(A)"]
	assert.InEpsilon(t, 20.0/3, va, 1e-9)

	i, err := res.Current("v1")
	require.NoError(t, err)
	assert.InDelta(t, -1e-2/3, i[0], 1e-15)
}

func TestOperatingPointBJTBias(t *testing.T) {
	q := device.NewBJT("Q1", []string{"c", "b", "0"})
	ckt := build(t,
		device.NewDCVoltageSource("VCC", []string{"vcc", "0"}, 10),
		device.NewResistor("RB", []string{"vcc", "b"}, 430e3),
		device.NewResistor("RC", []string{"vcc", "c"}, 1e3),
		q,
	)
	res, err := Run(context.Background(), ckt, OPRequest{}, DefaultOptions())
	require.NoError(t, err)

	op := res.OperatingPoint()
	ib := (10 - op["V(b)"]) / 430e3
	ic := (10 - op["V(c)"]) / 1e3
	assert.InDelta(t, 0.7, op["V(b)"], 0.15)
	assert.InEpsilon(t, q.Bf, ic/ib, 1e-3)
	assert.Greater(t, op["V(c)"], 5.0)
}

func TestSingularTopologies(t *testing.T) {
	tests := []struct {
		name string
		devs func() []device.Device
	}{
		{"voltage source loop", func() []device.Device {
			return []device.Device{
				device.NewDCVoltageSource("V1", []string{"a", "0"}, 1),
				device.NewDCVoltageSource("V2", []string{"a", "0"}, 2),
				device.NewResistor("R1", []string{"a", "0"}, 1e3),
			}
		}},
		{"floating node", func() []device.Device {
			return []device.Device{
				device.NewDCVoltageSource("V1", []string{"a", "0"}, 1),
				device.NewResistor("R1", []string{"a", "0"}, 1e3),
				device.NewCapacitor("C1", []string{"a", "b"}, 1e-6),
			}
		}},
		{"inductor loop", func() []device.Device {
			return []device.Device{
				device.NewInductor("L1", []string{"a", "0"}, 1e-3),
				device.NewInductor("L2", []string{"a", "0"}, 1e-3),
				device.NewResistor("R1", []string{"a", "0"}, 1e3),
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ckt := build(t, tt.devs()...)
			res, err := Run(context.Background(), ckt, OPRequest{}, DefaultOptions())
			assert.ErrorIs(t, err, ErrSingularMatrix)
			assert.False(t, errors.Is(err, ErrConvergence))
			require.NotNil(t, res)
			assert.Empty(t, res.Points)
		})
	}
}

func TestRecoveryStrategies(t *testing.T) {
	ref, err := Run(context.Background(), diodeCircuit(t), OPRequest{}, DefaultOptions())
	require.NoError(t, err)
	want := ref.OperatingPoint()["V(a)"]
	assert.InDelta(t, 0.7, want, 0.1)

	tests := []struct {
		name       string
		gmin, src  bool
		wantErr    bool
		gminSteps  bool
		srcStepped bool
	}{
		{name: "gmin stepping", gmin: true, gminSteps: true},
		{name: "source stepping", src: true, srcStepped: true},
		{name: "both disabled", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Itl1 = 3
			opts.GminStepping = tt.gmin
			opts.SourceStepping = tt.src

			res, err := Run(context.Background(), diodeCircuit(t), OPRequest{}, opts)
			if tt.wantErr {
				var cerr *ConvergenceError
				require.ErrorAs(t, err, &cerr)
				assert.ErrorIs(t, err, ErrConvergence)
				assert.Equal(t, "op", cerr.Analysis)
				assert.Equal(t, 3, cerr.Iterations)
				assert.NotEmpty(t, cerr.Node)
				assert.Empty(t, res.Points)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, want, res.OperatingPoint()["V(a)"], 1e-6)
			assert.Equal(t, tt.gminSteps, res.Stats.GminSteps > 0)
			assert.Equal(t, tt.srcStepped, res.Stats.SourceSteps > 0)
		})
	}
}

func TestSteppingExhaustedNamesUnknown(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Options)
		wantMsg   string
	}{
		{"gmin stepping", func(o *Options) { o.SourceStepping = false; o.GminSteps = 1 }, "gmin stepping exhausted 1 steps"},
		{"source stepping", func(o *Options) { o.GminStepping = false; o.SrcSteps = 1 }, "source stepping exhausted 1 steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ckt := diodeCircuit(t)
			opts := DefaultOptions()
			opts.Itl1 = 3
			tt.configure(&opts)

			_, err := Run(context.Background(), ckt, OPRequest{}, opts)
			var cerr *ConvergenceError
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, 1, cerr.Iterations)

			known := false
			for i := 1; i <= ckt.Size(); i++ {
				known = known || cerr.Node == ckt.UnknownName(i)
			}
			assert.True(t, known, "node %q", cerr.Node)
			assert.Regexp(t, `^[VI]\(`, cerr.Node)
		})
	}
}

func TestDCSweepWarmStart(t *testing.T) {
	ckt := diodeCircuit(t)
	opts := DefaultOptions()
	res, err := Run(context.Background(), ckt, DCSweepRequest{Source: "V1", Start: 0, Stop: 5, Step: 0.1}, opts)
	require.NoError(t, err)

	require.Len(t, res.Points, 51)
	assert.Equal(t, 0.0, res.Points[0].X)
	assert.Equal(t, 5.0, res.Points[50].X)
	for _, p := range res.Points[1 : len(res.Points)-1] {
		assert.Less(t, p.Iterations, opts.Itl1/4, "x=%g", p.X)
	}

	va, err := res.Voltage("a")
	require.NoError(t, err)
	for i := 1; i < len(va); i++ {
		assert.GreaterOrEqual(t, va[i], va[i-1])
	}

	src, err := ckt.Source("V1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, src.DCValue())
}

func TestDCSweepDescendingAndCurrentSource(t *testing.T) {
	ckt := build(t,
		device.NewDCCurrentSource("I1", []string{"0", "a"}, 1e-3),
		device.NewResistor("R1", []string{"a", "0"}, 1e3),
	)
	res, err := Run(context.Background(), ckt, DCSweepRequest{Source: "I1", Start: 2e-3, Stop: 0, Step: -1e-3}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []float64{2e-3, 1e-3, 0}, res.X())

	va, err := res.Voltage("a")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, va[0], 1e-9)
	assert.InDelta(t, 0.0, va[2], 1e-9)
	assert.Equal(t, []float64{2e-3, 1e-3, 0}, res.Table()["SWEEP"])

	for _, tt := range []struct{ x, want float64 }{
		{1e-3, 1}, {5e-4, 0.5}, {1.5e-3, 1.5}, {0, 0}, {3e-3, 2}, {-1e-3, 0},
	} {
		v, err := res.At("a", tt.x)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, v, 1e-9, "x=%g", tt.x)
	}
}

func TestDCSweepKeepsSourceValue(t *testing.T) {
	src := device.NewDCCurrentSource("I1", []string{"0", "a"}, 1e-3)
	ckt := build(t, src, device.NewResistor("R1", []string{"a", "0"}, 1e3))

	res, err := Run(context.Background(), ckt, DCSweepRequest{Source: "I1", Start: 0, Stop: 3e-3, Step: 1e-3}, DefaultOptions())
	require.NoError(t, err)
	va, err := res.Voltage("a")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, va[3], 1e-9)
	assert.Equal(t, 1e-3, src.DCValue())

	// a later operating point sees the nominal value
	op, err := Run(context.Background(), ckt, OPRequest{}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, op.OperatingPoint()["V(a)"], 1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, ckt, DCSweepRequest{Source: "I1", Start: 5e-3, Stop: 6e-3, Step: 1e-3}, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, 1e-3, src.DCValue())
}

func TestDCSweepInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  DCSweepRequest
	}{
		{"zero step", DCSweepRequest{Source: "V1", Start: 0, Stop: 1, Step: 0}},
		{"wrong direction", DCSweepRequest{Source: "V1", Start: 0, Stop: 1, Step: -0.1}},
		{"unknown source", DCSweepRequest{Source: "V9", Start: 0, Stop: 1, Step: 0.1}},
		{"not a source", DCSweepRequest{Source: "R1", Start: 0, Stop: 1, Step: 0.1}},
		{"too many points", DCSweepRequest{Source: "V1", Start: 0, Stop: 1, Step: 1e-15}},
		{"infinite bound", DCSweepRequest{Source: "V1", Start: 0, Stop: math.Inf(1), Step: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), dividerCircuit(t), tt.req, DefaultOptions())
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestTransientRCStep(t *testing.T) {
	res, err := Run(context.Background(), rcCircuit(t), TransientRequest{Step: 100e-6, Stop: 20e-3}, DefaultOptions())
	require.NoError(t, err)

	xs := res.X()
	assert.Equal(t, 0.0, xs[0])
	assert.Equal(t, 20e-3, xs[len(xs)-1])
	for i := 1; i < len(xs); i++ {
		require.Greater(t, xs[i], xs[i-1])
		assert.LessOrEqual(t, xs[i]-xs[i-1], 100e-6*(1+1e-9))
	}

	v, err := res.At("V(a)", 10e-3)
	require.NoError(t, err)
	assert.InEpsilon(t, 5*(1-math.Exp(-1)), v, 0.005)

	vEnd, err := res.At("a", 20e-3)
	require.NoError(t, err)
	assert.InEpsilon(t, 5*(1-math.Exp(-2)), vEnd, 0.005)
}

func TestTransientLandsOnBreakpoints(t *testing.T) {
	ckt := build(t,
		device.NewPWLVoltageSource("V1", []string{"in", "0"}, []float64{0, 1e-3, 1.5e-3, 3e-3}, []float64{0, 1, 1, 0}),
		device.NewResistor("R1", []string{"in", "a"}, 1e3),
		device.NewCapacitor("C1", []string{"a", "0"}, 100e-9),
	)
	res, err := Run(context.Background(), ckt, TransientRequest{Step: 50e-6, Stop: 4e-3}, DefaultOptions())
	require.NoError(t, err)

	xs := res.X()
	for _, bp := range []float64{1e-3, 1.5e-3, 3e-3, 4e-3} {
		assert.Contains(t, xs, bp)
	}
	vin, err := res.At("in", 1.5e-3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vin, 1e-12)
}

func TestTransientStartWindow(t *testing.T) {
	res, err := Run(context.Background(), rcCircuit(t), TransientRequest{Step: 100e-6, Stop: 10e-3, Start: 5e-3}, DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, res.Points)
	for _, x := range res.X() {
		assert.GreaterOrEqual(t, x, 5e-3*(1-1e-9))
	}
}

func TestTransientInductorLoopUseIC(t *testing.T) {
	l1 := device.NewInductor("L1", []string{"a", "0"}, 1e-3)
	l2 := device.NewInductor("L2", []string{"a", "0"}, 1e-3)
	l1.SetIC(1e-3)
	l2.SetIC(-1e-3)
	ckt := build(t, l1, l2, device.NewResistor("R1", []string{"a", "0"}, 1e3))

	res, err := Run(context.Background(), ckt, TransientRequest{Step: 10e-6, Stop: 1e-3, UseIC: true}, DefaultOptions())
	require.NoError(t, err)

	i1, err := res.Current("L1")
	require.NoError(t, err)
	i2, err := res.Current("L2")
	require.NoError(t, err)
	for k := range i1 {
		assert.InDelta(t, 1e-3, i1[k], 1e-12)
		assert.InDelta(t, -1e-3, i2[k], 1e-12)
	}
}

func TestTransientInvalidRequests(t *testing.T) {
	for _, req := range []TransientRequest{
		{Step: 0, Stop: 1},
		{Step: 1e-3, Stop: 0},
		{Step: 1e-3, Stop: 1, Start: 2},
		{Step: 1e-3, Stop: 1, MaxStep: -1},
		{Step: math.NaN(), Stop: 1},
	} {
		_, err := Run(context.Background(), rcCircuit(t), req, DefaultOptions())
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
}

func TestACSeriesRLC(t *testing.T) {
	v1 := device.NewDCVoltageSource("V1", []string{"in", "0"}, 0)
	v1.SetAC(1, 0)
	ckt := build(t,
		v1,
		device.NewResistor("R1", []string{"in", "a"}, 50),
		device.NewInductor("L1", []string{"a", "b"}, 1e-3),
		device.NewCapacitor("C1", []string{"b", "0"}, 10e-9),
	)
	res, err := Run(context.Background(), ckt, ACRequest{FStart: 30e3, FStop: 80e3, Points: 5001, Spacing: Linear}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.ACPoints, 5001)

	freqs := res.X()
	mag, err := res.Magnitude("I(V1)")
	require.NoError(t, err)

	peak := 0
	for i := range mag {
		if mag[i] > mag[peak] {
			peak = i
		}
	}
	f0 := 1 / (2 * math.Pi * math.Sqrt(1e-3*10e-9))
	assert.InEpsilon(t, f0, freqs[peak], 1e-3)
	assert.InDelta(t, 1.0/50, mag[peak], 1e-5)

	target := mag[peak] / math.Sqrt2
	cross := func(i, j int) float64 {
		return freqs[i] + (target-mag[i])*(freqs[j]-freqs[i])/(mag[j]-mag[i])
	}
	lo := peak
	for lo > 0 && mag[lo] >= target {
		lo--
	}
	hi := peak
	for hi < len(mag)-1 && mag[hi] >= target {
		hi++
	}
	require.Greater(t, lo, 0)
	require.Less(t, hi, len(mag)-1)
	bw := cross(hi-1, hi) - cross(lo, lo+1)
	assert.InEpsilon(t, 50/(2*math.Pi*1e-3), bw, 0.02)

	phase, err := res.PhaseDeg("I(V1)")
	require.NoError(t, err)
	assert.InDelta(t, 0, phase[peak], 1)
}

func TestACDiodeSmallSignal(t *testing.T) {
	v1 := device.NewDCVoltageSource("V1", []string{"in", "0"}, 5)
	v1.SetAC(1, 0)
	ckt := build(t,
		v1,
		device.NewResistor("R1", []string{"in", "a"}, 1000),
		device.NewDiode("D1", []string{"a", "0"}),
	)
	res, err := Run(context.Background(), ckt, ACRequest{FStart: 1, FStop: 1e3, Points: 1, Spacing: Decade}, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, res.ACPoints, 4)

	// divider of R1 and the diode incremental resistance at about 4.3 mA
	mag, err := res.Magnitude("a")
	require.NoError(t, err)
	rd := 0.02585 / 4.3e-3
	assert.InEpsilon(t, rd/(1000+rd), mag[0], 0.05)
}

func TestGenerateFrequencyPoints(t *testing.T) {
	f, err := generateFrequencyPoints(ACRequest{FStart: 1, FStop: 1000, Points: 1, Spacing: Decade})
	require.NoError(t, err)
	require.Len(t, f, 4)
	for i, want := range []float64{1, 10, 100, 1000} {
		assert.InEpsilon(t, want, f[i], 1e-12)
	}

	f, err = generateFrequencyPoints(ACRequest{FStart: 100, FStop: 800, Points: 2, Spacing: Octave})
	require.NoError(t, err)
	assert.Len(t, f, 7)
	assert.InEpsilon(t, 800, f[6], 1e-12)

	f, err = generateFrequencyPoints(ACRequest{FStart: 10, FStop: 20, Points: 3, Spacing: Linear})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 15, 20}, f)

	_, err = generateFrequencyPoints(ACRequest{FStart: 0, FStop: 20, Points: 3})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = generateFrequencyPoints(ACRequest{FStart: 1, FStop: 20, Points: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	s, err := ParseSpacing("oct")
	require.NoError(t, err)
	assert.Equal(t, Octave, s)
	_, err = ParseSpacing("log")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIdempotentRuns(t *testing.T) {
	requests := []Request{
		OPRequest{},
		DCSweepRequest{Source: "V1", Start: 0, Stop: 2, Step: 0.05},
		TransientRequest{Step: 10e-6, Stop: 1e-3},
	}
	ckt := build(t,
		device.NewPulseVoltageSource("V1", []string{"in", "0"}, 0, 2, 0, 1e-6, 1e-6, 1, 2),
		device.NewResistor("R1", []string{"in", "a"}, 1000),
		device.NewDiode("D1", []string{"a", "0"}),
		device.NewCapacitor("C1", []string{"a", "0"}, 100e-9),
	)
	for _, req := range requests {
		first, err := Run(context.Background(), ckt, req, DefaultOptions())
		require.NoError(t, err, req.Name())
		second, err := Run(context.Background(), ckt, req, DefaultOptions())
		require.NoError(t, err, req.Name())
		assert.Equal(t, first.Points, second.Points, req.Name())
		assert.Equal(t, first.Stats, second.Stats, req.Name())
	}
}

func TestTransientCancellation(t *testing.T) {
	req := TransientRequest{Step: 100e-6, Stop: 20e-3}

	opts := DefaultOptions()
	opts.Progress = func(p Progress) bool { return p.Point == 6 }
	tr := NewTransient(req, opts)
	require.NoError(t, tr.Setup(rcCircuit(t)))
	err := tr.Execute(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, Cancelled, tr.State())
	partial := tr.GetResults()
	require.Len(t, partial.Points, 6)

	// rerun on the same circuit after the cancelled run
	full, err := Run(context.Background(), tr.Circuit, req, DefaultOptions())
	require.NoError(t, err)
	require.Greater(t, len(full.Points), 6)
	assert.Equal(t, partial.Points, full.Points[:6])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts.Progress = func(p Progress) bool {
		if p.Point == 3 {
			cancel()
		}
		return false
	}
	res, err := Run(ctx, rcCircuit(t), req, opts)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Points, 3)
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, dividerCircuit(t), DCSweepRequest{Source: "V1", Start: 0, Stop: 1, Step: 0.5}, DefaultOptions())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, res.Points)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero reltol", func(o *Options) { o.Reltol = 0 }},
		{"negative gmin", func(o *Options) { o.Gmin = -1 }},
		{"zero itl4", func(o *Options) { o.Itl4 = 0 }},
		{"gmin start below gmin", func(o *Options) { o.GminStart = 1e-15 }},
		{"unknown method", func(o *Options) { o.Method = "gear9" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidRequest)
		})
	}
}

func TestSetupErrors(t *testing.T) {
	raw := circuit.New("raw")
	require.NoError(t, raw.Add(device.NewResistor("R1", []string{"a", "0"}, 1)))
	_, err := Run(context.Background(), raw, OPRequest{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.ErrorIs(t, NewOP(DefaultOptions()).Execute(context.Background()), ErrInvalidRequest)

	_, err = New(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResultLookup(t *testing.T) {
	res, err := Run(context.Background(), dividerCircuit(t), OPRequest{}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"V(in)", "V(A)", "I(V1)"}, res.Names())
	for _, name := range []string{"A", "V(A)", "v(A)", "I(V1)", "i(v1)"} {
		_, err := res.Index(name)
		assert.NoError(t, err, name)
	}
	_, err = res.Index("V(nowhere)")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	table := res.Table()
	assert.Contains(t, table, "V(A)")
	assert.Contains(t, table, "I(V1)")
}

type countingRecorder struct {
	mu       sync.Mutex
	points   int
	recovery map[string]int
	rejected int
	finished []State
}

func (r *countingRecorder) ObservePoint(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points++
}

func (r *countingRecorder) RecoveryEngaged(_ string, strategy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recovery == nil {
		r.recovery = make(map[string]int)
	}
	r.recovery[strategy]++
}

func (r *countingRecorder) StepRejected(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected++
}

func (r *countingRecorder) AnalysisFinished(_ string, s State, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
}

func TestRecorderHooks(t *testing.T) {
	rec := &countingRecorder{}
	opts := DefaultOptions()
	opts.Itl1 = 3
	opts.SourceStepping = false
	opts.Recorder = rec

	_, err := Run(context.Background(), diodeCircuit(t), OPRequest{}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.recovery["gmin stepping"])
	assert.Equal(t, 1, rec.points)
	assert.Equal(t, []State{Completed}, rec.finished)

	_, err = Run(context.Background(), dividerCircuit(t), DCSweepRequest{Source: "V1", Start: 0, Stop: 1, Step: 0}, opts)
	require.Error(t, err)
	assert.Len(t, rec.finished, 1)
}

func TestRecorderCountsRecordedPoints(t *testing.T) {
	v1 := device.NewDCVoltageSource("V1", []string{"in", "0"}, 5)
	v1.SetAC(1, 0)
	ckt := build(t,
		v1,
		device.NewResistor("R1", []string{"in", "a"}, 1000),
		device.NewDiode("D1", []string{"a", "0"}),
	)

	rec := &countingRecorder{}
	opts := DefaultOptions()
	opts.Recorder = rec
	res, err := Run(context.Background(), ckt, ACRequest{FStart: 1, FStop: 1e3, Points: 1, Spacing: Decade}, opts)
	require.NoError(t, err)
	require.Len(t, res.ACPoints, 4)
	assert.Equal(t, 4, rec.points)

	rec = &countingRecorder{}
	opts.Recorder = rec
	res, err = Run(context.Background(), rcCircuit(t), TransientRequest{Step: 1e-3, Stop: 5e-3, Start: 2e-3}, opts)
	require.NoError(t, err)
	assert.Equal(t, len(res.Points), rec.points)
}
