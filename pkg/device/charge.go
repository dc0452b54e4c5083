package device

import (
	"math"

	"github.com/edp1096/spicecore/pkg/util"
)

// chargeState is the integrator history of one charge (or flux) store.
// For a capacitance q is charge and i current; for an inductance q is flux
// and i the voltage across it.
type chargeState struct {
	q, i         float64 // latest linearization point
	qPrev, iPrev float64 // accepted timepoint
	xPrev        float64 // controlling voltage (or current) at the accepted timepoint
}

func (s *chargeState) seed(x, q float64) {
	s.q, s.qPrev = q, q
	s.i, s.iPrev = 0, 0
	s.xPrev = x
}

// companion linearizes the store at x: i(x) ~ geq*x + ceq.
func (s *chargeState) companion(status *CircuitStatus, x, q, c float64) (geq, ceq float64) {
	i, geq := util.Integrate(status.Method, status.TimeStep, q, s.qPrev, s.iPrev, c)
	s.q, s.i = q, i
	return geq, i - geq*x
}

func (s *chargeState) accept(status *CircuitStatus, x, q float64) {
	i, _ := util.Integrate(status.Method, status.TimeStep, q, s.qPrev, s.iPrev, 0)
	s.q, s.i = q, i
	s.qPrev, s.iPrev, s.xPrev = q, i, x
}

// truncationRatio estimates the local error in units of x against
// trtol*(reltol*|x| + abs).
func (s *chargeState) truncationRatio(status *CircuitStatus, x, q, c, abs float64, tol Tolerance) float64 {
	if c <= 0 || status.TimeStep <= 0 {
		return 0
	}
	i, _ := util.Integrate(status.Method, status.TimeStep, q, s.qPrev, s.iPrev, 0)
	errX := util.TruncationError(status.TimeStep, i, s.iPrev) / c
	tolX := tol.Trtol * (tol.Reltol*math.Max(math.Abs(x), math.Abs(s.xPrev)) + abs)
	if tolX <= 0 {
		return 0
	}
	return errX / tolX
}

const expLimit = 80.0

// limitedExp is exp(x) continued linearly above expLimit.
func limitedExp(x float64) (value, slope float64) {
	if x > expLimit {
		e := math.Exp(expLimit)
		return e * (1 + x - expLimit), e
	}
	e := math.Exp(x)
	return e, e
}

// pnjlim limits the change of a pn-junction voltage between Newton
// iterations. The second result reports whether limiting happened.
func pnjlim(vnew, vold, vt, vcrit float64) (float64, bool) {
	if vnew > vcrit && math.Abs(vnew-vold) > 2*vt {
		if vold > 0 {
			arg := 1 + (vnew-vold)/vt
			if arg > 0 {
				return vold + vt*math.Log(arg), true
			}
			return vcrit, true
		}
		return vt * math.Log(vnew/vt), true
	}
	return vnew, false
}

// criticalVoltage is the junction voltage above which limiting applies.
func criticalVoltage(nvt, is float64) float64 {
	return nvt * math.Log(nvt/(math.Sqrt2*is))
}

// depletionCharge is the junction depletion charge and capacitance with
// the forward-bias linearization above fc*vj.
func depletionCharge(v, cj0, vj, m, fc float64) (q, c float64) {
	if cj0 == 0 {
		return 0, 0
	}
	if v < fc*vj {
		arg := 1 - v/vj
		sarg := math.Exp(-m * math.Log(arg))
		return vj * cj0 * (1 - arg*sarg) / (1 - m), cj0 * sarg
	}
	f1 := vj * (1 - math.Pow(1-fc, 1-m)) / (1 - m)
	f2 := math.Pow(1-fc, 1+m)
	f3 := 1 - fc*(1+m)
	fcv := fc * vj
	q = cj0 * (f1 + (f3*(v-fcv)+(m/(2*vj))*(v*v-fcv*fcv))/f2)
	c = cj0 / f2 * (f3 + m*v/vj)
	return q, c
}
