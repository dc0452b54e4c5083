package netlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/device"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1k", 1e3},
		{"10uF", 10e-6},
		{"2.2MEG", 2.2e6},
		{"2.2meg", 2.2e6},
		{"3m", 3e-3},
		{"3M", 3e-3},
		{"1e-3", 1e-3},
		{".5n", 0.5e-9},
		{"-4p", -4e-12},
		{"5V", 5},
		{"1mil", 25.4e-6},
		{"100", 100},
		{"1.5T", 1.5e12},
		{"2f", 2e-15},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			require.NoError(t, err)
			assert.InEpsilon(t, tt.want, got, 1e-12)
		})
	}

	for _, bad := range []string{"", "k1", "1..2", "abc"} {
		_, err := ParseValue(bad)
		assert.Error(t, err, bad)
	}
}

const dividerDeck = `voltage divider
* comment line
V1 in 0 DC 10
R1 in out 1k ; inline comment
R2 out 0
+ 2k
.op
.end
R3 ignored 0 1
`

func TestParseDivider(t *testing.T) {
	data, err := Parse(dividerDeck)
	require.NoError(t, err)

	assert.Equal(t, "voltage divider", data.Title)
	require.Len(t, data.Elements, 3)
	assert.Equal(t, "R", data.Elements[2].Type)
	assert.Equal(t, []string{"out", "0"}, data.Elements[2].Nodes)
	assert.Equal(t, 2000.0, data.Elements[2].Value)
	assert.Equal(t, 5, data.Elements[2].Line)
	assert.Equal(t, []AnalysisType{AnalysisOP}, data.Analyses)

	ckt, err := BuildCircuit(data)
	require.NoError(t, err)

	reqs, err := data.Requests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	res, err := analysis.Run(context.Background(), ckt, reqs[0], analysis.DefaultOptions())
	require.NoError(t, err)
	op := res.OperatingPoint()
	assert.InEpsilon(t, 20.0/3, op["V(out)"], 1e-9)
	assert.InEpsilon(t, -10.0/3000, op["I(V1)"], 1e-9)
}

func TestParseSources(t *testing.T) {
	deck := `sources
V1 a 0 DC 1 AC 2 45
V2 b 0 PULSE(0 5 1u 1n 1n 10u 20u) AC 1
V3 c 0 SIN(0 1 1k)
I1 0 d PWL(0 0, 1m 2m, 2m 0)
V4 e 0 3.3
R1 a 0 1k
`
	data, err := Parse(deck)
	require.NoError(t, err)
	require.Len(t, data.Elements, 6)

	v1 := data.Elements[0]
	assert.Equal(t, 1.0, v1.Value)
	assert.Equal(t, "2", v1.Params["acmag"])
	assert.Equal(t, "45", v1.Params["acphase"])

	v2 := data.Elements[1]
	assert.Equal(t, "pulse", v2.Params["type"])
	assert.Equal(t, "0 5 1u 1n 1n 10u 20u", v2.Params["pulse"])
	assert.Equal(t, "1", v2.Params["acmag"])

	assert.Equal(t, "0 0 1m 2m 2m 0", data.Elements[3].Params["pwl"])
	assert.Equal(t, 3.3, data.Elements[4].Value)

	ckt, err := BuildCircuit(data)
	require.NoError(t, err)

	dev, ok := ckt.Device("V2")
	require.True(t, ok)
	v := dev.(*device.VoltageSource)
	require.NotNil(t, v.Waveform())
	assert.InDelta(t, 5.0, v.GetVoltage(5e-6), 1e-12)
	assert.InDelta(t, 0.0, v.GetVoltage(0), 1e-12)

	dev, ok = ckt.Device("I1")
	require.True(t, ok)
	assert.InDelta(t, 1e-3, dev.(*device.CurrentSource).GetCurrent(1.5e-3), 1e-12)
}

func TestParseModelsAndSemiconductors(t *testing.T) {
	deck := `semis
.model dmod D(is=1e-14 n=1.5 cjo=2p)
.model qn NPN bf=150 vaf=80
.model qp PNP (bf=50)
.model nch NMOS (level=44 vto=0.5 kp=120u)
.model pch PMOS vto=-0.6
D1 a 0 dmod 2
Q1 c b 0 qn
Q2 c b a qp
M1 d g 0 0 nch L=2u W=20u
M2 d g a a pch
R1 a 0 1k
R2 b 0 1k
R3 c 0 1k
R4 d 0 1k
R5 g 0 1k
`
	data, err := Parse(deck)
	require.NoError(t, err)
	require.Len(t, data.Models, 5)
	assert.Equal(t, "NMOS", data.Models["nch"].Type)
	assert.Equal(t, 44.0, data.Models["nch"].Params["level"])
	assert.Equal(t, 1.0, data.Models["pch"].Params["level"])

	ckt, err := BuildCircuit(data)
	require.NoError(t, err)
	assert.Len(t, ckt.Models, 5)

	dev, _ := ckt.Device("D1")
	d := dev.(*device.Diode)
	assert.Equal(t, 1.5, d.N)
	assert.Equal(t, 2.0, d.Area)
	assert.InEpsilon(t, 2e-12, d.Cj0, 1e-12)

	dev, _ = ckt.Device("Q1")
	assert.False(t, dev.(*device.Bjt).PNP)
	assert.Equal(t, 150.0, dev.(*device.Bjt).Bf)
	dev, _ = ckt.Device("Q2")
	assert.True(t, dev.(*device.Bjt).PNP)

	dev, _ = ckt.Device("M1")
	m1 := dev.(*device.Mosfet)
	assert.Equal(t, 44, m1.Level)
	assert.InEpsilon(t, 2e-6, m1.L, 1e-12)
	assert.InEpsilon(t, 20e-6, m1.W, 1e-12)
	dev, _ = ckt.Device("M2")
	assert.True(t, dev.(*device.Mosfet).PMOS)
}

func TestParseReactiveAndCoupling(t *testing.T) {
	deck := `coupled
V1 in 0 AC 1
L1 in 0 1m ic=1m
L2 out 0 4m
K1 L1 L2 0.99
C1 out 0 1u IC=2
R1 out 0 tc1=0
+ 1k
`
	_, err := Parse(deck)
	require.Error(t, err, "value must come before instance parameters")

	deck = `coupled
V1 in 0 AC 1
L1 in 0 1m ic=1m
L2 out 0 4m
K1 L1 L2 0.99
C1 out 0 1u IC = 2
R1 out 0 1k tc1=1m tc2=0
`
	data, err := Parse(deck)
	require.NoError(t, err)
	k := data.Elements[3]
	assert.Equal(t, "K", k.Type)
	assert.Empty(t, k.Nodes)
	assert.Equal(t, 0.99, k.Value)

	ckt, err := BuildCircuit(data)
	require.NoError(t, err)

	dev, _ := ckt.Device("L1")
	assert.True(t, dev.(*device.Inductor).HasIC)
	assert.InEpsilon(t, 1e-3, dev.(*device.Inductor).IC, 1e-12)
	dev, _ = ckt.Device("C1")
	assert.Equal(t, 2.0, dev.(*device.Capacitor).IC)
	dev, _ = ckt.Device("R1")
	assert.InEpsilon(t, 1e-3, dev.(*device.Resistor).Tc1, 1e-12)
}

func TestParseAnalysisCards(t *testing.T) {
	deck := `cards
V1 in 0 1
R1 in 0 1k
.dc V1 0 5 0.5
.ac oct 10 1 1meg
.tran 1u 1m 0.1m 2u uic
.options reltol=1e-4 itl1=200 method=be nosrcstepping bogus=1
.temp 50
`
	data, err := Parse(deck)
	require.NoError(t, err)
	assert.Equal(t, []AnalysisType{AnalysisDC, AnalysisAC, AnalysisTRAN}, data.Analyses)

	reqs, err := data.Requests()
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, analysis.DCSweepRequest{Source: "V1", Start: 0, Stop: 5, Step: 0.5}, reqs[0])
	assert.Equal(t, analysis.ACRequest{FStart: 1, FStop: 1e6, Points: 10, Spacing: analysis.Octave}, reqs[1])
	tran := reqs[2].(analysis.TransientRequest)
	assert.InEpsilon(t, 1e-6, tran.Step, 1e-12)
	assert.InEpsilon(t, 1e-3, tran.Stop, 1e-12)
	assert.InEpsilon(t, 0.1e-3, tran.Start, 1e-12)
	assert.InEpsilon(t, 2e-6, tran.MaxStep, 1e-12)
	assert.True(t, tran.UseIC)

	opts := analysis.DefaultOptions()
	unknown := data.ApplyOptions(&opts)
	assert.Equal(t, []string{"bogus"}, unknown)
	assert.Equal(t, 1e-4, opts.Reltol)
	assert.Equal(t, 200, opts.Itl1)
	assert.Equal(t, "be", opts.Method)
	assert.False(t, opts.SourceStepping)
	assert.True(t, opts.GminStepping)
	assert.Equal(t, 50.0, opts.Temp)
	assert.NoError(t, opts.Validate())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		deck string
	}{
		{"unknown element", "t\nX1 a b sub\n"},
		{"missing nodes", "t\nR1 a\n"},
		{"missing value", "t\nR1 a 0\n"},
		{"bad value", "t\nR1 a 0 abc\n"},
		{"unknown card", "t\n.four 1k V(out)\n"},
		{"short tran", "t\n.tran 1u\n"},
		{"bad sweep", "t\n.ac log 10 1 1k\n"},
		{"bad model type", "t\n.model foo JFET\n"},
		{"model without equals", "t\n.model d1 D is 1e-14\n"},
		{"dangling continuation", "t\n+ 1k\n"},
		{"three-way coupling", "t\nK1 L1 L2 L3 0.9\n"},
		{"source keyword without value", "t\nV1 a 0 DC\n"},
		{"nested dc sweep", "t\n.dc V1 0 1 0.1 V2 0 1 0.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.deck)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}

	_, err := Parse("t\nR1 a 0 1k\nR2 a b\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		deck string
	}{
		{"missing model", "t\nD1 a 0 nomodel\nR1 a 0 1\n"},
		{"wrong model kind", "t\n.model qn NPN\nD1 a 0 qn\nR1 a 0 1\n"},
		{"duplicate name", "t\nR1 a 0 1\nr1 a 0 2\n"},
		{"bad pulse", "t\nV1 a 0 PULSE(1)\nR1 a 0 1\n"},
		{"pwl not increasing", "t\nV1 a 0 PWL(0 0 0 1)\nR1 a 0 1\n"},
		{"unknown inductor", "t\nL1 a 0 1m\nK1 L1 L9 0.5\nR1 a 0 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Parse(tt.deck)
			require.NoError(t, err)
			_, err = BuildCircuit(data)
			assert.Error(t, err)
		})
	}
}

func TestDeckWithoutAnalysisRunsOP(t *testing.T) {
	data, err := Parse("t\nV1 a 0 1\nR1 a 0 1\n")
	require.NoError(t, err)
	reqs, err := data.Requests()
	require.NoError(t, err)
	assert.Equal(t, []analysis.Request{analysis.OPRequest{}}, reqs)
}

func TestAddControl(t *testing.T) {
	data, err := Parse("t\nV1 a 0 1\nR1 a 0 1k\n.op\n")
	require.NoError(t, err)

	require.NoError(t, data.AddControl(".tran 1u 1m"))
	assert.Equal(t, []AnalysisType{AnalysisOP, AnalysisTRAN}, data.Analyses)
	assert.InEpsilon(t, 1e-3, data.TranParam.TStop, 1e-12)

	assert.ErrorIs(t, data.AddControl("R2 a 0 1k"), ErrSyntax)
	assert.ErrorIs(t, data.AddControl(".ac dec"), ErrSyntax)
}
