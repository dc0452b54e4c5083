package device

import (
	"math"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type Diode struct {
	BaseDevice
	// Model parameters
	Is   float64 // Saturation current
	N    float64 // Emission coefficient
	Cj0  float64 // Zero-bias junction capacitance
	M    float64 // Grading coefficient
	Vj   float64 // Built-in potential
	Fc   float64 // Forward-bias depletion capacitance coefficient
	Tt   float64 // Transit time
	Bv   float64 // Reverse breakdown voltage, 0 disables breakdown
	Area float64

	// Temperature parameters
	Eg   float64 // Energy gap (eV)
	Xti  float64 // Saturation current temperature exponent
	Tnom float64 // degC

	// Linearization point of the last stamp
	vd float64
	id float64
	gd float64

	charge chargeState
}

var (
	_ NonLinear = (*Diode)(nil)
	_ Reactive  = (*Diode)(nil)
)

func NewDiode(name string, nodeNames []string) *Diode {
	d := &Diode{BaseDevice: newBaseDevice(name, 0, nodeNames)}
	d.setDefaultParameters()
	return d
}

func (d *Diode) GetType() string { return "D" }

func (d *Diode) nonLinear() {}

func (d *Diode) setDefaultParameters() {
	d.Is = 1e-14
	d.N = 1.0
	d.Cj0 = 0.0
	d.M = 0.5
	d.Vj = 1.0
	d.Fc = 0.5
	d.Tt = 0.0
	d.Bv = 0.0
	d.Area = 1.0

	d.Eg = consts.EG_SI
	d.Xti = consts.XTI_PN
	d.Tnom = consts.TNOM
}

func (d *Diode) SetModelParameters(params map[string]float64) {
	set := map[string]*float64{
		"is":   &d.Is,
		"n":    &d.N,
		"cjo":  &d.Cj0,
		"cj0":  &d.Cj0,
		"m":    &d.M,
		"vj":   &d.Vj,
		"fc":   &d.Fc,
		"tt":   &d.Tt,
		"bv":   &d.Bv,
		"area": &d.Area,
		"eg":   &d.Eg,
		"xti":  &d.Xti,
		"tnom": &d.Tnom,
	}
	for name, value := range params {
		if p, ok := set[name]; ok {
			*p = value
		}
	}
}

func (d *Diode) Validate() error {
	if err := checkNodes(d.Name, d.NodeNames, 2); err != nil {
		return err
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"is", d.Is}, {"n", d.N}, {"vj", d.Vj}, {"area", d.Area}, {"eg", d.Eg}} {
		if err := checkPositive(d.Name, p.name, p.v); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"cjo", d.Cj0}, {"tt", d.Tt}, {"bv", d.Bv}, {"xti", d.Xti}} {
		if err := checkNonNegative(d.Name, p.name, p.v); err != nil {
			return err
		}
	}
	if d.M < 0 || d.M >= 1 {
		return &ParamError{Device: d.Name, Param: "m", Value: d.M, Reason: "must be in [0, 1)"}
	}
	if d.Fc < 0 || d.Fc >= 1 {
		return &ParamError{Device: d.Name, Param: "fc", Value: d.Fc, Reason: "must be in [0, 1)"}
	}
	return nil
}

func (d *Diode) Reset() {
	d.vd, d.id, d.gd = 0, 0, 0
	d.charge = chargeState{}
}

// saturationCurrent scales Is*Area to temp (degC).
func (d *Diode) saturationCurrent(temp float64) float64 {
	t, tnom := temp+consts.KELVIN, d.Tnom+consts.KELVIN
	vt := consts.ThermalVoltage(temp)
	ratio := t / tnom
	return d.Is * d.Area * math.Pow(ratio, d.Xti/d.N) * math.Exp((ratio-1)*d.Eg/(d.N*vt))
}

// Evaluate returns the junction current and its derivative at vd.
func (d *Diode) Evaluate(vd, temp float64) (id, gd float64) {
	nvt := d.N * consts.ThermalVoltage(temp)
	isat := d.saturationCurrent(temp)

	switch {
	case vd >= -3*nvt:
		e, slope := limitedExp(vd / nvt)
		return isat * (e - 1), isat * slope / nvt
	case d.Bv == 0 || vd >= -d.Bv:
		arg := 3 * nvt / (vd * math.E)
		arg = arg * arg * arg
		return -isat * (1 + arg), isat * 3 * arg / vd
	default:
		e, slope := limitedExp(-(d.Bv + vd) / nvt)
		return -isat * e, isat * slope / nvt
	}
}

func (d *Diode) charges(vd, temp float64) (q, c float64) {
	q, c = depletionCharge(vd, d.Cj0*d.Area, d.Vj, d.M, d.Fc)
	if d.Tt > 0 {
		id, gd := d.Evaluate(vd, temp)
		q += d.Tt * id
		c += d.Tt * gd
	}
	return q, c
}

func (d *Diode) hasCharge() bool { return d.Cj0 > 0 || d.Tt > 0 }

func (d *Diode) limit(vd float64, temp float64) (float64, bool) {
	nvt := d.N * consts.ThermalVoltage(temp)
	vcrit := criticalVoltage(nvt, d.saturationCurrent(temp))

	if d.Bv > 0 && vd < math.Min(0, -d.Bv+10*nvt) {
		vtemp, limited := pnjlim(-(vd + d.Bv), -(d.vd + d.Bv), nvt, vcrit)
		return -(vtemp + d.Bv), limited
	}
	return pnjlim(vd, d.vd, nvt, vcrit)
}

func (d *Diode) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	n1, n2 := d.Nodes[0], d.Nodes[1]
	vd := voltageAcross(voltages, n1, n2)

	if status.Mode == ACAnalysis {
		_, gd := d.Evaluate(vd, status.Temp)
		_, c := d.charges(vd, status.Temp)
		omega := 2 * math.Pi * status.Frequency
		matrix.StampAdmittance(n1, n2, gd+status.Gmin, omega*c)
		return nil
	}

	vd, limited := d.limit(vd, status.Temp)
	if limited {
		status.Noncon++
	}

	id, gd := d.Evaluate(vd, status.Temp)
	id += status.Gmin * vd
	gd += status.Gmin
	d.vd, d.id, d.gd = vd, id, gd

	geq, ieq := gd, id-gd*vd
	if status.Mode == TransientAnalysis && d.hasCharge() {
		q, c := d.charges(vd, status.Temp)
		gc, cc := d.charge.companion(status, vd, q, c)
		geq += gc
		ieq += cc
	}

	matrix.StampConductance(n1, n2, geq)
	matrix.StampCurrentSource(n1, n2, ieq)
	return nil
}

func (d *Diode) UpdateHistory(voltages []float64, status *CircuitStatus) {
	if !d.hasCharge() {
		return
	}
	vd := voltageAcross(voltages, d.Nodes[0], d.Nodes[1])
	q, _ := d.charges(vd, status.Temp)
	if status.InitTran {
		d.charge.seed(vd, q)
		return
	}
	d.charge.accept(status, vd, q)
}

func (d *Diode) TruncationRatio(voltages []float64, status *CircuitStatus, tol Tolerance) float64 {
	if !d.hasCharge() {
		return 0
	}
	vd := voltageAcross(voltages, d.Nodes[0], d.Nodes[1])
	q, c := d.charges(vd, status.Temp)
	return d.charge.truncationRatio(status, vd, q, c, tol.Vntol, tol)
}

// OperatingPoint reports the junction voltage, current and conductance of
// the last linearization.
func (d *Diode) OperatingPoint() (vd, id, gd float64) { return d.vd, d.id, d.gd }
