package device

import (
	"math"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Model levels
const (
	Level1   = 1  // square law
	LevelEKV = 44 // EKV interpolation between weak and strong inversion
)

// Operation regions
const (
	CUTOFF     = 0
	LINEAR     = 1
	SATURATION = 2
)

// Mosfet has nodes drain, gate, source, bulk. Bulk junctions and
// terminal resistances are not modeled.
type Mosfet struct {
	BaseDevice
	PMOS  bool
	Level int

	// Geometry parameters
	L float64 // Channel length (m)
	W float64 // Channel width (m)

	// DC Parameters
	VTO    float64 // Threshold voltage
	KP     float64 // Transconductance parameter (A/V²)
	GAMMA  float64 // Body effect parameter (V^0.5)
	PHI    float64 // Surface potential (V)
	LAMBDA float64 // Channel length modulation (1/V)
	THETA  float64 // Mobility modulation (1/V)
	N      float64 // EKV slope factor

	// Capacitance Parameters
	TOX  float64 // Oxide thickness (m), 0 disables intrinsic capacitances
	CGSO float64 // Gate-Source overlap capacitance per unit width (F/m)
	CGDO float64 // Gate-Drain overlap capacitance per unit width (F/m)
	CGBO float64 // Gate-Bulk overlap capacitance per unit length (F/m)

	// Last linearization in NMOS orientation, drain/source as connected
	vgs float64
	vds float64
	vbs float64
	op  MOSOperatingPoint

	qgs chargeState
	qgd chargeState
	qgb chargeState
	// gate capacitances at the accepted timepoint
	capPrev [3]float64
}

// MOSOperatingPoint is the drain current and its derivatives in NMOS
// orientation with vds >= 0.
type MOSOperatingPoint struct {
	Id     float64
	Gm     float64
	Gds    float64
	Gmbs   float64
	Vth    float64
	Region int
}

var (
	_ NonLinear = (*Mosfet)(nil)
	_ Reactive  = (*Mosfet)(nil)
)

func NewMosfet(name string, nodeNames []string) *Mosfet {
	m := &Mosfet{BaseDevice: newBaseDevice(name, 0, nodeNames)}
	m.setDefaultParameters()
	return m
}

func (m *Mosfet) GetType() string { return "M" }

func (m *Mosfet) nonLinear() {}

func (m *Mosfet) setDefaultParameters() {
	m.Level = Level1

	m.L = 10e-6
	m.W = 10e-6

	m.VTO = 0.7
	m.KP = 2e-5
	m.GAMMA = 0.0
	m.PHI = 0.6
	m.LAMBDA = 0.0
	m.THETA = 0.0
	m.N = 1.3
}

func (m *Mosfet) SetModelParameters(params map[string]float64) {
	if levelVal, ok := params["level"]; ok {
		m.Level = int(levelVal)
	}

	paramsSet := map[string]*float64{
		"l": &m.L,
		"w": &m.W,

		"vto":    &m.VTO,
		"kp":     &m.KP,
		"gamma":  &m.GAMMA,
		"phi":    &m.PHI,
		"lambda": &m.LAMBDA,
		"theta":  &m.THETA,
		"n":      &m.N,

		"tox":  &m.TOX,
		"cgso": &m.CGSO,
		"cgdo": &m.CGDO,
		"cgbo": &m.CGBO,
	}

	for key, param := range paramsSet {
		if value, ok := params[key]; ok {
			*param = value
		}
	}
}

func (m *Mosfet) Validate() error {
	if err := checkNodes(m.Name, m.NodeNames, 4); err != nil {
		return err
	}
	if m.Level != Level1 && m.Level != LevelEKV {
		return &ParamError{Device: m.Name, Param: "level", Value: float64(m.Level), Reason: "must be 1 or 44"}
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"l", m.L}, {"w", m.W}, {"kp", m.KP}, {"phi", m.PHI}, {"n", m.N}} {
		if err := checkPositive(m.Name, p.name, p.v); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"gamma", m.GAMMA}, {"lambda", m.LAMBDA}, {"theta", m.THETA}, {"tox", m.TOX}, {"cgso", m.CGSO}, {"cgdo", m.CGDO}, {"cgbo", m.CGBO}} {
		if err := checkNonNegative(m.Name, p.name, p.v); err != nil {
			return err
		}
	}
	return checkFinite(m.Name, "vto", m.VTO)
}

func (m *Mosfet) Reset() {
	m.vgs, m.vds, m.vbs = 0, 0, 0
	m.op = MOSOperatingPoint{}
	m.qgs, m.qgd, m.qgb = chargeState{}, chargeState{}, chargeState{}
	m.capPrev = [3]float64{}
}

func (m *Mosfet) polarity() float64 {
	if m.PMOS {
		return -1
	}
	return 1
}

// vto is the zero-bias threshold in NMOS orientation. PMOS cards give a
// negative VTO.
func (m *Mosfet) vto() float64 { return m.polarity() * m.VTO }

func (m *Mosfet) terminalVoltages(voltages []float64) (vgs, vds, vbs float64) {
	nd, ng, ns, nb := m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]
	t := m.polarity()
	return t * voltageAcross(voltages, ng, ns), t * voltageAcross(voltages, nd, ns), t * voltageAcross(voltages, nb, ns)
}

// threshold returns the body-effect adjusted threshold and d(vgst)/d(vbs).
func (m *Mosfet) threshold(vbs float64) (vth, arg float64) {
	sqrtPhi := math.Sqrt(m.PHI)
	var sarg float64
	if vbs <= 0 {
		sarg = math.Sqrt(m.PHI - vbs)
	} else {
		sarg = math.Max(0, sqrtPhi-vbs/(2*sqrtPhi))
	}
	vth = m.vto() + m.GAMMA*(sarg-sqrtPhi)
	if sarg > 0 {
		arg = m.GAMMA / (2 * sarg)
	}
	return vth, arg
}

// Evaluate computes the drain current and conductances in NMOS
// orientation. vds must be non-negative; Stamp exchanges drain and source
// when it is not.
func (m *Mosfet) Evaluate(vgs, vds, vbs, temp float64) MOSOperatingPoint {
	if m.Level == LevelEKV {
		return m.evaluateEKV(vgs, vds, vbs, temp)
	}
	return m.evaluateLevel1(vgs, vds, vbs)
}

func (m *Mosfet) evaluateLevel1(vgs, vds, vbs float64) MOSOperatingPoint {
	vth, arg := m.threshold(vbs)
	vgst := vgs - vth
	if vgst <= 0 {
		return MOSOperatingPoint{Vth: vth, Region: CUTOFF}
	}

	mob := 1 + m.THETA*vgst
	beta := m.KP * m.W / m.L / mob
	clm := 1 + m.LAMBDA*vds

	op := MOSOperatingPoint{Vth: vth}
	var gmCore float64
	if vgst <= vds {
		op.Region = SATURATION
		op.Id = 0.5 * beta * vgst * vgst * clm
		gmCore = beta * vgst * clm
		op.Gds = 0.5 * beta * vgst * vgst * m.LAMBDA
	} else {
		op.Region = LINEAR
		op.Id = beta * vds * (vgst - 0.5*vds) * clm
		gmCore = beta * vds * clm
		op.Gds = beta*(vgst-vds)*clm + beta*vds*(vgst-0.5*vds)*m.LAMBDA
	}
	// mobility degradation
	op.Gm = gmCore - op.Id*m.THETA/mob
	op.Gmbs = op.Gm * arg
	return op
}

// softplus is ln(1+exp(x)) and its derivative.
func softplus(x float64) (value, slope float64) {
	if x > 30 {
		return x, 1
	}
	e := math.Exp(x)
	return math.Log1p(e), e / (1 + e)
}

// ekvF is the EKV interpolation function ln²(1+exp(x/2)) and its derivative.
func ekvF(x float64) (f, df float64) {
	l, s := softplus(x / 2)
	return l * l, l * s
}

func (m *Mosfet) evaluateEKV(vgs, vds, vbs, temp float64) MOSOperatingPoint {
	ut := consts.ThermalVoltage(temp)
	beta := m.KP * m.W / m.L
	is := 2 * m.N * beta * ut * ut

	vp := (vgs - vbs - m.vto()) / m.N
	vsb, vdb := -vbs, vds-vbs
	ff, dff := ekvF((vp - vsb) / ut)
	fr, dfr := ekvF((vp - vdb) / ut)

	clm := 1 + m.LAMBDA*vds
	id0 := is * (ff - fr)
	gm0 := is / ut * (dff - dfr) / m.N
	gds0 := is / ut * dfr

	op := MOSOperatingPoint{
		Id:   id0 * clm,
		Gm:   gm0 * clm,
		Gds:  gds0*clm + id0*m.LAMBDA,
		Gmbs: (m.N - 1) * gm0 * clm,
		Vth:  m.vto(),
	}
	switch {
	case vp < vsb:
		op.Region = CUTOFF
	case fr < 0.01*ff:
		op.Region = SATURATION
	default:
		op.Region = LINEAR
	}
	return op
}

// fetlim limits the per-iteration change of a gate voltage around vto.
func fetlim(vnew, vold, vto float64) float64 {
	vtsthi := math.Abs(2*(vold-vto)) + 2
	vtstlo := math.Abs(vold-vto) + 1
	vtox := vto + 3.5
	delv := vnew - vold

	if vold >= vto {
		if vold >= vtox {
			if delv <= 0 {
				if vnew >= vtox {
					if -delv > vtstlo {
						return vold - vtstlo
					}
					return vnew
				}
				return math.Max(vnew, vto+2)
			}
			if delv >= vtsthi {
				return vold + vtsthi
			}
			return vnew
		}
		if delv <= 0 {
			return math.Max(vnew, vto-0.5)
		}
		return math.Min(vnew, vto+4)
	}

	if delv <= 0 {
		if -delv > vtsthi {
			return vold - vtsthi
		}
		return vnew
	}
	vtemp := vto + 0.5
	if vnew <= vtemp {
		if delv > vtstlo {
			return vold + vtstlo
		}
		return vnew
	}
	return vtemp
}

// limvds limits the per-iteration change of a drain-source voltage.
func limvds(vnew, vold float64) float64 {
	if vold >= 3.5 {
		if vnew > vold {
			return math.Min(vnew, 3*vold+2)
		}
		if vnew < 3.5 {
			return math.Max(vnew, 2)
		}
		return vnew
	}
	if vnew > vold {
		return math.Min(vnew, 4)
	}
	return math.Max(vnew, -0.5)
}

func (m *Mosfet) limit(vgs, vds float64) (float64, float64, bool) {
	vgd := vgs - vds
	var lgs, lds float64
	if m.vds >= 0 {
		lgs = fetlim(vgs, m.vgs, m.vto())
		lds = limvds(lgs-vgd, m.vds)
	} else {
		lgd := fetlim(vgd, m.vgs-m.vds, m.vto())
		lds = -limvds(-(vgs - lgd), -m.vds)
		lgs = lgd + lds
	}
	limited := math.Abs(lgs-vgs) > 1e-12 || math.Abs(lds-vds) > 1e-12
	return lgs, lds, limited
}

// oriented evaluates the device with drain and source exchanged when vds is
// negative. The returned nodes are the effective drain and source.
func (m *Mosfet) oriented(vgs, vds, vbs, temp float64) (op MOSOperatingPoint, vgsEff, vdsEff, vbsEff float64, nd, ns int) {
	nd, ns = m.Nodes[0], m.Nodes[2]
	if vds >= 0 {
		return m.Evaluate(vgs, vds, vbs, temp), vgs, vds, vbs, nd, ns
	}
	vgsEff, vdsEff, vbsEff = vgs-vds, -vds, vbs-vds
	return m.Evaluate(vgsEff, vdsEff, vbsEff, temp), vgsEff, vdsEff, vbsEff, ns, nd
}

func (m *Mosfet) loadConductance(matrix matrix.DeviceMatrix, op MOSOperatingPoint, nd, ns int) {
	ng, nb := m.Nodes[1], m.Nodes[3]

	matrix.AddElement(nd, nd, op.Gds)
	matrix.AddElement(nd, ng, op.Gm)
	matrix.AddElement(nd, ns, -op.Gds-op.Gm-op.Gmbs)
	matrix.AddElement(nd, nb, op.Gmbs)

	matrix.AddElement(ns, nd, -op.Gds)
	matrix.AddElement(ns, ng, -op.Gm)
	matrix.AddElement(ns, ns, op.Gds+op.Gm+op.Gmbs)
	matrix.AddElement(ns, nb, -op.Gmbs)
}

// capacitances returns the Meyer gate capacitances plus overlap terms,
// indexed by the connected source and drain.
func (m *Mosfet) capacitances(vgs, vds, vbs float64) (cgs, cgd, cgb float64) {
	var cox float64
	if m.TOX > 0 {
		cox = consts.EPS_OX / m.TOX * m.W * m.L
	}
	reversed := vds < 0
	if reversed {
		vgs, vds, vbs = vgs-vds, -vds, vbs-vds
	}
	vth, _ := m.threshold(vbs)
	vgst := vgs - vth
	phi := m.PHI

	switch {
	case cox == 0:
	case vgst <= -phi:
		cgb = cox / 2
	case vgst <= -phi/2:
		cgb = -vgst * cox / (2 * phi)
	case vgst <= 0:
		cgb = -vgst * cox / (2 * phi)
		cgs = vgst*cox/(1.5*phi) + cox/3
	default:
		vdsat := vgst
		if vdsat <= vds {
			cgs = cox / 3
		} else {
			vddif := 2*vdsat - vds
			vddif1 := vdsat - vds
			vddif2 := vddif * vddif
			cgd = cox * (1 - vdsat*vdsat/vddif2) / 3
			cgs = cox * (1 - vddif1*vddif1/vddif2) / 3
		}
	}
	if reversed {
		cgs, cgd = cgd, cgs
	}
	cgs += m.CGSO * m.W
	cgd += m.CGDO * m.W
	cgb += m.CGBO * m.L
	return cgs, cgd, cgb
}

func (m *Mosfet) hasCharge() bool {
	return m.TOX > 0 || m.CGSO > 0 || m.CGDO > 0 || m.CGBO > 0
}

func (m *Mosfet) Stamp(matrix matrix.DeviceMatrix, voltages []float64, status *CircuitStatus) error {
	ng, ns0, nd0, nb := m.Nodes[1], m.Nodes[2], m.Nodes[0], m.Nodes[3]
	t := m.polarity()
	vgs, vds, vbs := m.terminalVoltages(voltages)

	if status.Mode == ACAnalysis {
		op, _, _, _, nd, ns := m.oriented(vgs, vds, vbs, status.Temp)
		op.Gds += status.Gmin
		m.loadConductance(matrix, op, nd, ns)
		cgs, cgd, cgb := m.capacitances(vgs, vds, vbs)
		omega := 2 * math.Pi * status.Frequency
		matrix.StampAdmittance(ng, ns0, 0, omega*cgs)
		matrix.StampAdmittance(ng, nd0, 0, omega*cgd)
		matrix.StampAdmittance(ng, nb, 0, omega*cgb)
		return nil
	}

	vgs, vds, limited := m.limit(vgs, vds)
	if limited {
		status.Noncon++
	}

	op, vgsE, vdsE, vbsE, nd, ns := m.oriented(vgs, vds, vbs, status.Temp)
	op.Id += status.Gmin * vdsE
	op.Gds += status.Gmin
	m.vgs, m.vds, m.vbs, m.op = vgs, vds, vbs, op

	m.loadConductance(matrix, op, nd, ns)
	ceq := t * (op.Id - op.Gm*vgsE - op.Gds*vdsE - op.Gmbs*vbsE)
	matrix.AddRHS(nd, -ceq)
	matrix.AddRHS(ns, ceq)

	if status.Mode == TransientAnalysis && m.hasCharge() {
		v, q, c, _ := m.meyerCharges(vgs, vds, vbs)
		for i, s := range m.gateStates() {
			if c[i] == 0 && s.iPrev == 0 {
				continue
			}
			n2 := [3]int{ns0, nd0, nb}[i]
			g, ceq := s.companion(status, v[i], q[i], c[i])
			matrix.StampConductance(ng, n2, g)
			matrix.StampCurrentSource(ng, n2, t*ceq)
		}
	}
	return nil
}

func (m *Mosfet) gateStates() [3]*chargeState {
	return [3]*chargeState{&m.qgs, &m.qgd, &m.qgb}
}

// meyerCharges integrates the gate charges from the accepted timepoint
// with the mean of the present and accepted capacitances. now holds the
// capacitances at the present voltages.
func (m *Mosfet) meyerCharges(vgs, vds, vbs float64) (v, q, c, now [3]float64) {
	cgs, cgd, cgb := m.capacitances(vgs, vds, vbs)
	v = [3]float64{vgs, vgs - vds, vgs - vbs}
	now = [3]float64{cgs, cgd, cgb}
	for i, s := range m.gateStates() {
		c[i] = 0.5 * (now[i] + m.capPrev[i])
		q[i] = s.qPrev + c[i]*(v[i]-s.xPrev)
	}
	return v, q, c, now
}

func (m *Mosfet) UpdateHistory(voltages []float64, status *CircuitStatus) {
	if !m.hasCharge() {
		return
	}
	vgs, vds, vbs := m.terminalVoltages(voltages)
	if status.InitTran {
		cgs, cgd, cgb := m.capacitances(vgs, vds, vbs)
		m.capPrev = [3]float64{cgs, cgd, cgb}
		v := [3]float64{vgs, vgs - vds, vgs - vbs}
		for i, s := range m.gateStates() {
			s.seed(v[i], m.capPrev[i]*v[i])
		}
		return
	}
	v, q, _, now := m.meyerCharges(vgs, vds, vbs)
	for i, s := range m.gateStates() {
		s.accept(status, v[i], q[i])
	}
	m.capPrev = now
}

func (m *Mosfet) TruncationRatio(voltages []float64, status *CircuitStatus, tol Tolerance) float64 {
	if !m.hasCharge() {
		return 0
	}
	vgs, vds, vbs := m.terminalVoltages(voltages)
	v, q, c, _ := m.meyerCharges(vgs, vds, vbs)
	ratio := 0.0
	for i, s := range m.gateStates() {
		ratio = math.Max(ratio, s.truncationRatio(status, v[i], q[i], c[i], tol.Vntol, tol))
	}
	return ratio
}

// OperatingPoint reports the last linearization in NMOS orientation.
func (m *Mosfet) OperatingPoint() MOSOperatingPoint { return m.op }

// DrainCurrent is the signed current into the drain terminal at the last
// linearization.
func (m *Mosfet) DrainCurrent() float64 {
	id := m.op.Id * m.polarity()
	if m.vds < 0 {
		return -id
	}
	return id
}
