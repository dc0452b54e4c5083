package device

import (
	"math"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Bjt is the Gummel-Poon transistor with nodes collector, base, emitter.
// Terminal resistances are not modeled.
type Bjt struct {
	BaseDevice
	PNP bool

	// DC Model Parameters
	Is  float64 // Transport saturation current
	Bf  float64 // Ideal maximum forward beta
	Br  float64 // Ideal maximum reverse beta
	Nf  float64 // Forward emission coefficient
	Nr  float64 // Reverse emission coefficient
	Vaf float64 // Forward Early voltage, 0 is infinite
	Var float64 // Reverse Early voltage, 0 is infinite
	Ikf float64 // Forward beta roll-off corner current, 0 is infinite
	Ikr float64 // Reverse beta roll-off corner current, 0 is infinite
	Ise float64 // B-E leakage saturation current
	Ne  float64 // B-E leakage emission coefficient
	Isc float64 // B-C leakage saturation current
	Nc  float64 // B-C leakage emission coefficient

	// Capacitance Parameters
	Cje float64
	Vje float64
	Mje float64
	Cjc float64
	Vjc float64
	Mjc float64
	Fc  float64
	Tf  float64 // Ideal forward transit time
	Tr  float64 // Ideal reverse transit time

	// Temperature Parameters
	Xtb  float64 // Beta temperature exponent
	Eg   float64
	Xti  float64
	Tnom float64 // degC

	// Last linearization, polarity adjusted
	vbe float64
	vbc float64
	op  BJTOperatingPoint

	qbe chargeState
	qbc chargeState
}

// BJTOperatingPoint holds terminal currents and small-signal conductances
// in NPN orientation.
type BJTOperatingPoint struct {
	Ic  float64
	Ib  float64
	Gm  float64
	Gpi float64
	Gmu float64
	Go  float64
}

var (
	_ NonLinear = (*Bjt)(nil)
	_ Reactive  = (*Bjt)(nil)
)

func NewBJT(name string, nodeNames []string) *Bjt {
	b := &Bjt{BaseDevice: newBaseDevice(name, 0, nodeNames)}
	b.setDefaultParameters()
	return b
}

func (b *Bjt) GetType() string { return "Q" }

func (b *Bjt) nonLinear() {}

func (b *Bjt) setDefaultParameters() {
	b.Is = 1e-16
	b.Bf = 100.0
	b.Br = 1.0
	b.Nf = 1.0
	b.Nr = 1.0
	b.Ne = 1.5
	b.Nc = 2.0

	b.Vje = 0.75
	b.Mje = 0.33
	b.Vjc = 0.75
	b.Mjc = 0.33
	b.Fc = 0.5

	b.Eg = consts.EG_SI
	b.Xti = consts.XTI_PN
	b.Tnom = consts.TNOM
}

func (b *Bjt) SetModelParameters(params map[string]float64) {
	paramsSet := map[string]*float64{
		"is":  &b.Is,
		"bf":  &b.Bf,
		"br":  &b.Br,
		"nf":  &b.Nf,
		"nr":  &b.Nr,
		"vaf": &b.Vaf,
		"va":  &b.Vaf,
		"var": &b.Var,
		"vb":  &b.Var,
		"ikf": &b.Ikf,
		"ikr": &b.Ikr,
		"ise": &b.Ise,
		"ne":  &b.Ne,
		"isc": &b.Isc,
		"nc":  &b.Nc,

		"cje": &b.Cje,
		"vje": &b.Vje,
		"mje": &b.Mje,
		"cjc": &b.Cjc,
		"vjc": &b.Vjc,
		"mjc": &b.Mjc,
		"fc":  &b.Fc,
		"tf":  &b.Tf,
		"tr":  &b.Tr,

		"xtb":  &b.Xtb,
		"eg":   &b.Eg,
		"xti":  &b.Xti,
		"tnom": &b.Tnom,
	}

	for key, param := range paramsSet {
		if value, ok := params[key]; ok {
			*param = value
		}
	}
}

func (b *Bjt) Validate() error {
	if err := checkNodes(b.Name, b.NodeNames, 3); err != nil {
		return err
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"is", b.Is}, {"bf", b.Bf}, {"br", b.Br}, {"nf", b.Nf}, {"nr", b.Nr}, {"ne", b.Ne}, {"nc", b.Nc}, {"vje", b.Vje}, {"vjc", b.Vjc}, {"eg", b.Eg}} {
		if err := checkPositive(b.Name, p.name, p.v); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"vaf", b.Vaf}, {"var", b.Var}, {"ikf", b.Ikf}, {"ikr", b.Ikr}, {"ise", b.Ise}, {"isc", b.Isc}, {"cje", b.Cje}, {"cjc", b.Cjc}, {"tf", b.Tf}, {"tr", b.Tr}, {"xti", b.Xti}} {
		if err := checkNonNegative(b.Name, p.name, p.v); err != nil {
			return err
		}
	}
	if err := checkFinite(b.Name, "xtb", b.Xtb); err != nil {
		return err
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"mje", b.Mje}, {"mjc", b.Mjc}, {"fc", b.Fc}} {
		if p.v < 0 || p.v >= 1 {
			return &ParamError{Device: b.Name, Param: p.name, Value: p.v, Reason: "must be in [0, 1)"}
		}
	}
	return nil
}

func (b *Bjt) Reset() {
	b.vbe, b.vbc = 0, 0
	b.op = BJTOperatingPoint{}
	b.qbe, b.qbc = chargeState{}, chargeState{}
}

func (b *Bjt) polarity() float64 {
	if b.PNP {
		return -1
	}
	return 1
}

// junctionVoltages returns vbe and vbc in NPN orientation.
func (b *Bjt) junctionVoltages(voltages []float64) (vbe, vbc float64) {
	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]
	t := b.polarity()
	return t * voltageAcross(voltages, nb, ne), t * voltageAcross(voltages, nb, nc)
}

type bjtTempParams struct {
	is, bf, br, ise, isc float64
}

func (b *Bjt) temperatureAdjusted(temp float64) bjtTempParams {
	vt := consts.ThermalVoltage(temp)
	ratio := (temp + consts.KELVIN) / (b.Tnom + consts.KELVIN)
	factor := math.Pow(ratio, b.Xti) * math.Exp(b.Eg/vt*(ratio-1))
	bfactor := math.Pow(ratio, b.Xtb)
	return bjtTempParams{
		is:  b.Is * factor,
		bf:  b.Bf * bfactor,
		br:  b.Br * bfactor,
		ise: b.Ise * math.Pow(factor, 1/b.Ne) / bfactor,
		isc: b.Isc * math.Pow(factor, 1/b.Nc) / bfactor,
	}
}

// junction is the ideal diode equation with the reverse-bias
// approximation below -3 nvt.
func junction(v, is, nvt float64) (i, g float64) {
	if is == 0 {
		return 0, 0
	}
	if v >= -3*nvt {
		e, slope := limitedExp(v / nvt)
		return is * (e - 1), is * slope / nvt
	}
	arg := 3 * nvt / (v * math.E)
	arg = arg * arg * arg
	return -is * (1 + arg), is * 3 * arg / v
}

// Evaluate computes the Gummel-Poon currents at the given junction
// voltages (NPN orientation).
func (b *Bjt) Evaluate(vbe, vbc, temp float64) BJTOperatingPoint {
	return b.evaluate(vbe, vbc, temp, 0)
}

func (b *Bjt) evaluate(vbe, vbc, temp, gmin float64) BJTOperatingPoint {
	vt := consts.ThermalVoltage(temp)
	tp := b.temperatureAdjusted(temp)

	cbe, gbe := junction(vbe, tp.is, b.Nf*vt)
	cbe += gmin * vbe
	gbe += gmin
	cben, gben := junction(vbe, tp.ise, b.Ne*vt)

	cbc, gbc := junction(vbc, tp.is, b.Nr*vt)
	cbc += gmin * vbc
	gbc += gmin
	cbcn, gbcn := junction(vbc, tp.isc, b.Nc*vt)

	// base charge
	invVaf, invVar, invIkf, invIkr := inverse(b.Vaf), inverse(b.Var), inverse(b.Ikf), inverse(b.Ikr)
	q1 := 1 / (1 - invVaf*vbc - invVar*vbe)
	var qb, dqbdve, dqbdvc float64
	if invIkf == 0 && invIkr == 0 {
		qb = q1
		dqbdve = q1 * qb * invVar
		dqbdvc = q1 * qb * invVaf
	} else {
		q2 := invIkf*cbe + invIkr*cbc
		arg := math.Max(0, 1+4*q2)
		sqarg := 1.0
		if arg != 0 {
			sqarg = math.Sqrt(arg)
		}
		qb = q1 * (1 + sqarg) / 2
		dqbdve = q1 * (qb*invVar + invIkf*gbe/sqarg)
		dqbdvc = q1 * (qb*invVaf + invIkr*gbc/sqarg)
	}

	cc := (cbe-cbc)/qb - cbc/tp.br - cbcn
	cb := cbe/tp.bf + cben + cbc/tp.br + cbcn
	gpi := gbe/tp.bf + gben
	gmu := gbc/tp.br + gbcn
	gout := (gbc + (cbe-cbc)*dqbdvc/qb) / qb
	gm := (gbe-(cbe-cbc)*dqbdve/qb)/qb - gout

	return BJTOperatingPoint{Ic: cc, Ib: cb, Gm: gm, Gpi: gpi, Gmu: gmu, Go: gout}
}

func inverse(v float64) float64 {
	if v == 0 {
		return 0
	}
	return 1 / v
}

// charges returns the B-E and B-C stored charge and capacitance.
func (b *Bjt) charges(vbe, vbc, temp float64) (qbe, cbe, qbc, cbc float64) {
	qbe, cbe = depletionCharge(vbe, b.Cje, b.Vje, b.Mje, b.Fc)
	qbc, cbc = depletionCharge(vbc, b.Cjc, b.Vjc, b.Mjc, b.Fc)
	if b.Tf > 0 || b.Tr > 0 {
		vt := consts.ThermalVoltage(temp)
		is := b.temperatureAdjusted(temp).is
		if b.Tf > 0 {
			i, g := junction(vbe, is, b.Nf*vt)
			qbe += b.Tf * i
			cbe += b.Tf * g
		}
		if b.Tr > 0 {
			i, g := junction(vbc, is, b.Nr*vt)
			qbc += b.Tr * i
			cbc += b.Tr * g
		}
	}
	return qbe, cbe, qbc, cbc
}

func (b *Bjt) hasCharge() bool { return b.Cje > 0 || b.Cjc > 0 || b.Tf > 0 || b.Tr > 0 }

func (b *Bjt) limit(vbe, vbc, temp float64) (float64, float64, bool) {
	vt := consts.ThermalVoltage(temp)
	vcrit := criticalVoltage(vt, b.temperatureAdjusted(temp).is)
	vbe, l1 := pnjlim(vbe, b.vbe, vt, vcrit)
	vbc, l2 := pnjlim(vbc, b.vbc, vt, vcrit)
	return vbe, vbc, l1 || l2
}

func (b *Bjt) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]
	t := b.polarity()
	vbe, vbc := b.junctionVoltages(voltages)

	if status.Mode == ACAnalysis {
		op := b.evaluate(vbe, vbc, status.Temp, status.Gmin)
		b.loadConductance(matrix, op)
		_, capbe, _, capbc := b.charges(vbe, vbc, status.Temp)
		omega := 2 * math.Pi * status.Frequency
		matrix.StampAdmittance(nb, ne, 0, omega*capbe)
		matrix.StampAdmittance(nb, nc, 0, omega*capbc)
		return nil
	}

	vbe, vbc, limited := b.limit(vbe, vbc, status.Temp)
	if limited {
		status.Noncon++
	}
	op := b.evaluate(vbe, vbc, status.Temp, status.Gmin)
	b.vbe, b.vbc, b.op = vbe, vbc, op

	b.loadConductance(matrix, op)

	ceqbe := t * (op.Ic + op.Ib - vbe*(op.Gm+op.Go+op.Gpi) + vbc*op.Go)
	ceqbc := t * (-op.Ic + vbe*(op.Gm+op.Go) - vbc*(op.Gmu+op.Go))
	matrix.AddRHS(nc, ceqbc)
	matrix.AddRHS(nb, -ceqbe-ceqbc)
	matrix.AddRHS(ne, ceqbe)

	if status.Mode == TransientAnalysis && b.hasCharge() {
		qbe, capbe, qbc, capbc := b.charges(vbe, vbc, status.Temp)
		g, c := b.qbe.companion(status, vbe, qbe, capbe)
		matrix.StampConductance(nb, ne, g)
		matrix.StampCurrentSource(nb, ne, t*c)
		g, c = b.qbc.companion(status, vbc, qbc, capbc)
		matrix.StampConductance(nb, nc, g)
		matrix.StampCurrentSource(nb, nc, t*c)
	}
	return nil
}

func (b *Bjt) loadConductance(matrix matrix.DeviceMatrix, op BJTOperatingPoint) {
	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]

	matrix.AddElement(nc, nc, op.Gmu+op.Go)
	matrix.AddElement(nc, nb, op.Gm-op.Gmu)
	matrix.AddElement(nc, ne, -op.Gm-op.Go)

	matrix.AddElement(nb, nb, op.Gpi+op.Gmu)
	matrix.AddElement(nb, nc, -op.Gmu)
	matrix.AddElement(nb, ne, -op.Gpi)

	matrix.AddElement(ne, ne, op.Gpi+op.Gm+op.Go)
	matrix.AddElement(ne, nc, -op.Go)
	matrix.AddElement(ne, nb, -op.Gpi-op.Gm)
}

func (b *Bjt) UpdateHistory(voltages []float64, status *CircuitStatus) {
	if !b.hasCharge() {
		return
	}
	vbe, vbc := b.junctionVoltages(voltages)
	qbe, _, qbc, _ := b.charges(vbe, vbc, status.Temp)
	if status.InitTran {
		b.qbe.seed(vbe, qbe)
		b.qbc.seed(vbc, qbc)
		return
	}
	b.qbe.accept(status, vbe, qbe)
	b.qbc.accept(status, vbc, qbc)
}

func (b *Bjt) TruncationRatio(voltages []float64, status *CircuitStatus, tol Tolerance) float64 {
	if !b.hasCharge() {
		return 0
	}
	vbe, vbc := b.junctionVoltages(voltages)
	qbe, capbe, qbc, capbc := b.charges(vbe, vbc, status.Temp)
	return math.Max(
		b.qbe.truncationRatio(status, vbe, qbe, capbe, tol.Vntol, tol),
		b.qbc.truncationRatio(status, vbc, qbc, capbc, tol.Vntol, tol),
	)
}

// OperatingPoint reports the last linearization. Currents are signed for
// the device polarity.
func (b *Bjt) OperatingPoint() BJTOperatingPoint {
	op := b.op
	t := b.polarity()
	op.Ic *= t
	op.Ib *= t
	return op
}
