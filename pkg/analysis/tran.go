package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/util"
)

type Transient struct {
	BaseAnalysis
	req        TransientRequest
	hmin, hmax float64
}

func NewTransient(req TransientRequest, opts Options) *Transient {
	return &Transient{
		BaseAnalysis: newBaseAnalysis("tran", opts),
		req:          req,
	}
}

func (tr *Transient) Setup(ckt *circuit.Circuit) error {
	if err := tr.setup(ckt, false); err != nil {
		return err
	}
	r := tr.req
	for _, v := range []float64{r.Step, r.Stop, r.Start, r.MaxStep} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: transient times must be finite", ErrInvalidRequest)
		}
	}
	if !(r.Step > 0) || !(r.Stop > 0) {
		return fmt.Errorf("%w: step and stop must be positive", ErrInvalidRequest)
	}
	if r.Start < 0 || r.Start >= r.Stop {
		return fmt.Errorf("%w: start %g outside [0, %g)", ErrInvalidRequest, r.Start, r.Stop)
	}
	if r.MaxStep < 0 {
		return fmt.Errorf("%w: negative max step", ErrInvalidRequest)
	}

	tr.hmax = tr.opts.HMax
	if tr.hmax == 0 {
		tr.hmax = r.MaxStep
	}
	if tr.hmax == 0 {
		tr.hmax = math.Min(r.Step, (r.Stop-r.Start)/50)
	}
	tr.hmin = tr.opts.HMin
	if tr.hmin == 0 {
		tr.hmin = 1e-9 * tr.hmax
	}
	if tr.hmin > tr.hmax {
		return fmt.Errorf("%w: hmin %g above hmax %g", ErrInvalidRequest, tr.hmin, tr.hmax)
	}
	return nil
}

// StepBounds returns the minimum and maximum timestep in use.
func (tr *Transient) StepBounds() (hmin, hmax float64) { return tr.hmin, tr.hmax }

func (tr *Transient) Execute(ctx context.Context) error {
	if err := tr.begin(); err != nil {
		return err
	}
	if err := tr.cancelled(ctx); err != nil {
		return tr.finish(err)
	}

	ckt := tr.Circuit
	x, res, err := tr.initialState()
	if err != nil {
		return tr.finish(err)
	}

	status := tr.newStatus(device.TransientAnalysis)
	status.UseIC = tr.req.UseIC
	status.InitTran = true
	ckt.UpdateHistory(x, status)
	status.InitTran = false

	if tr.req.Start <= 0 {
		tr.record(0, res)
	}

	stop := tr.req.Stop
	eps := tr.hmin / 2
	breaks := ckt.Breakpoints(0, stop)
	if len(breaks) == 0 || breaks[len(breaks)-1] < stop {
		breaks = append(breaks, stop)
	}
	tol := device.Tolerance{
		Reltol: tr.opts.Reltol,
		Vntol:  tr.opts.Vntol,
		Abstol: tr.opts.Abstol,
		Trtol:  tr.opts.Trtol,
	}
	method := tr.opts.method()

	t := 0.0
	h := math.Max(math.Min(tr.req.Step, tr.hmax)/10, tr.hmin)
	firstOrder := true // backward Euler at start and after breakpoints
	next := 0

	for t < stop-eps {
		for next < len(breaks)-1 && breaks[next] <= t+eps {
			next++
		}
		bp := breaks[next]
		planned := h
		hitBreak := false
		if t+h >= bp-tr.hmin {
			h = bp - t
			hitBreak = true
		}

		status.Time = t + h
		status.TimeStep = h
		status.Method = method
		if firstOrder {
			status.Method = util.BackwardEulerMethod
		}
		tr.point = status.Time

		step, err := tr.doNRiter(x, status, tr.opts.Itl4, 0)
		if err != nil {
			if !errors.Is(err, ErrConvergence) {
				return tr.finish(fmt.Errorf("time %g: %w", status.Time, err))
			}
			tr.reject("newton", status.Time, h)
			h /= 2
			firstOrder = true
			if h < tr.hmin {
				return tr.finish(fmt.Errorf("timestep too small at t=%g: %w", t, err))
			}
			continue
		}

		ratio := ckt.TruncationRatio(step.x, status, tol)
		factor := util.StepFactor(ratio, 2)
		if factor < 0.9 && h > tr.hmin*(1+1e-9) {
			tr.reject("truncation", status.Time, h)
			h = math.Max(h*factor, tr.hmin)
			continue
		}

		ckt.UpdateHistory(step.x, status)
		t = status.Time
		if hitBreak {
			t = bp
		}
		x = step.x
		if t >= tr.req.Start-eps {
			tr.record(t, step)
		}
		if err := tr.checkpoint(ctx, t, t/stop); err != nil {
			return tr.finish(err)
		}

		h *= factor
		if hitBreak && next < len(breaks)-1 {
			h = math.Min(h, 0.1*math.Min(planned, breaks[next+1]-bp))
		}
		h = math.Min(math.Max(h, tr.hmin), tr.hmax)
		firstOrder = hitBreak
	}
	return tr.finish(nil)
}

// initialState is the operating point at t=0 with sources at their t=0
// values, or the device initial conditions when UseIC is set.
func (tr *Transient) initialState() ([]float64, nrResult, error) {
	if tr.req.UseIC {
		x := tr.zeroGuess()
		for _, dev := range tr.Circuit.Devices() {
			if l, ok := dev.(*device.Inductor); ok && l.HasIC {
				x[l.BranchIndex()] = l.IC
			}
		}
		return x, nrResult{x: x}, nil
	}

	status := tr.newStatus(device.OperatingPointAnalysis)
	status.TranOP = true
	tr.point = 0
	res, err := tr.solvePoint(tr.zeroGuess(), status, tr.opts.Itl1)
	if err != nil {
		return nil, res, fmt.Errorf("initial operating point: %w", err)
	}
	return res.x, res, nil
}

func (tr *Transient) reject(reason string, t, h float64) {
	tr.results.Stats.RejectedSteps++
	if reason == "newton" {
		tr.log.Warn("timestep rejected", "reason", reason, "time", t, "step", h)
	} else {
		tr.log.Debug("timestep rejected", "reason", reason, "time", t, "step", h)
	}
	if tr.opts.Recorder != nil {
		tr.opts.Recorder.StepRejected(tr.name, reason)
	}
}
