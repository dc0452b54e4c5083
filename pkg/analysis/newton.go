package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/device"
)

type nrResult struct {
	x          []float64 // 1-based, x[0] = 0
	iterations int
	residual   float64
	worst      int // unknown furthest from convergence in the last iteration
}

// solveFunc finds one operating point starting from guess. Recovery
// strategies share this signature and wrap the plain Newton solve.
type solveFunc func(guess []float64, status *device.CircuitStatus) (nrResult, error)

// doNRiter runs Newton-Raphson from guess with gshunt added from every
// node to ground. Device and matrix errors are returned as they are; only
// iteration exhaustion yields a ConvergenceError.
func (a *BaseAnalysis) doNRiter(guess []float64, status *device.CircuitStatus, maxIter int, gshunt float64) (nrResult, error) {
	ckt := a.Circuit
	mat := a.mat
	opts := a.opts

	x := make([]float64, ckt.Size()+1)
	copy(x, guess)
	x[0] = 0
	mat.SetSolution(x)

	linear := !ckt.IsNonLinear()
	for iter := 1; iter <= maxIter; iter++ {
		mat.Clear()
		status.Noncon = 0

		if err := ckt.Stamp(mat, x, status); err != nil {
			return nrResult{x: x, iterations: iter}, err
		}
		mat.LoadGmin(gshunt)

		if err := mat.Solve(); err != nil {
			return nrResult{x: x, iterations: iter}, err
		}
		copy(x, mat.Solution())
		a.results.Stats.Iterations++

		if linear {
			return nrResult{x: x, iterations: iter}, nil
		}
		worst, delta := mat.LargestChange(opts.Reltol, opts.Vntol, opts.Abstol)
		if status.Noncon == 0 && mat.Converged(opts.Reltol, opts.Vntol, opts.Abstol) {
			return nrResult{x: x, iterations: iter, residual: delta, worst: worst}, nil
		}
	}

	worst, delta := mat.LargestChange(opts.Reltol, opts.Vntol, opts.Abstol)
	return nrResult{x: x, iterations: maxIter, residual: delta, worst: worst}, &ConvergenceError{
		Analysis:   a.name,
		Point:      a.point,
		Node:       ckt.UnknownName(worst),
		Residual:   delta,
		Iterations: maxIter,
	}
}

func (a *BaseAnalysis) newton(maxIter int) solveFunc {
	return func(guess []float64, status *device.CircuitStatus) (nrResult, error) {
		return a.doNRiter(guess, status, maxIter, 0)
	}
}

// gminStepping solves with a large shunt on every node first and lowers it
// geometrically toward the nominal gmin, reusing each solution as the next
// guess. The reduction factor shrinks after a failed step.
func (a *BaseAnalysis) gminStepping() solveFunc {
	return func(guess []float64, status *device.CircuitStatus) (nrResult, error) {
		opts := a.opts
		target := opts.Gmin
		if target <= 0 {
			target = 1e-12
		}
		gshunt := opts.GminStart
		factor := 10.0
		last := guess
		lastShunt := 0.0
		var res nrResult
		var err error

		for step := 0; step < opts.GminSteps; step++ {
			a.results.Stats.GminSteps++
			res, err = a.doNRiter(last, status, opts.Itl2, gshunt)
			switch {
			case err == nil:
				a.log.Debug("gmin step converged", "gshunt", gshunt, "iterations", res.iterations)
				last, lastShunt = res.x, gshunt
				if gshunt <= target {
					return a.doNRiter(last, status, opts.Itl2, 0)
				}
				if res.iterations <= opts.Itl2/4 {
					factor = math.Min(factor*math.Sqrt(factor), 10)
				}
				gshunt = math.Max(gshunt/factor, target)
			case !errors.Is(err, ErrConvergence):
				return res, err
			case lastShunt == 0:
				return res, fmt.Errorf("gmin stepping failed at the initial shunt %g: %w", gshunt, err)
			default:
				factor = math.Sqrt(math.Sqrt(factor))
				if factor < 1.00005 {
					return res, fmt.Errorf("gmin stepping stalled at %g: %w", lastShunt, err)
				}
				gshunt = lastShunt / factor
			}
		}
		if err == nil {
			err = a.exhausted(res, opts.GminSteps)
		}
		return res, fmt.Errorf("gmin stepping exhausted %d steps: %w", opts.GminSteps, err)
	}
}

// sourceStepping ramps every independent source from zero to its full
// value. The increment grows after easy steps and shrinks on failure.
func (a *BaseAnalysis) sourceStepping() solveFunc {
	return func(guess []float64, status *device.CircuitStatus) (nrResult, error) {
		opts := a.opts
		status.SourceStepping = true
		defer func() {
			status.SourceStepping = false
			status.SrcFact = 1
		}()

		status.SrcFact = 0
		res, err := a.doNRiter(a.zeroGuess(), status, opts.Itl2, 0)
		if err != nil {
			return res, fmt.Errorf("source stepping failed with sources off: %w", err)
		}

		last := res.x
		converged, raise := 0.0, 0.001
		for step := 0; step < opts.SrcSteps; step++ {
			a.results.Stats.SourceSteps++
			status.SrcFact = math.Min(1, converged+raise)
			res, err = a.doNRiter(last, status, opts.Itl2, 0)
			switch {
			case err == nil:
				a.log.Debug("source step converged", "factor", status.SrcFact, "iterations", res.iterations)
				last, converged = res.x, status.SrcFact
				if converged >= 1 {
					return res, nil
				}
				if res.iterations <= opts.Itl2/4 {
					raise *= 1.5
				} else if res.iterations > 3*opts.Itl2/4 {
					raise *= 0.5
				}
			case !errors.Is(err, ErrConvergence):
				return res, err
			default:
				raise /= 10
				if raise < 1e-7 {
					return res, fmt.Errorf("source stepping stalled at factor %g: %w", converged, err)
				}
			}
		}
		if err == nil {
			err = a.exhausted(res, opts.SrcSteps)
		}
		return res, fmt.Errorf("source stepping exhausted %d steps: %w", opts.SrcSteps, err)
	}
}

// exhausted reports a stepping strategy that ran out of steps while still
// converging, naming the worst unknown of its last solve.
func (a *BaseAnalysis) exhausted(last nrResult, steps int) error {
	return &ConvergenceError{
		Analysis:   a.name,
		Point:      a.point,
		Node:       a.Circuit.UnknownName(last.worst),
		Residual:   last.residual,
		Iterations: steps,
	}
}

type strategy struct {
	name  string
	solve solveFunc
}

// withRecovery tries plain Newton first, then each enabled strategy from
// the same guess. Only convergence failures move on to the next strategy.
func (a *BaseAnalysis) withRecovery(base solveFunc) solveFunc {
	var strategies []strategy
	if a.opts.GminStepping {
		strategies = append(strategies, strategy{"gmin stepping", a.gminStepping()})
	}
	if a.opts.SourceStepping {
		strategies = append(strategies, strategy{"source stepping", a.sourceStepping()})
	}

	return func(guess []float64, status *device.CircuitStatus) (nrResult, error) {
		res, err := base(guess, status)
		if err == nil || !errors.Is(err, ErrConvergence) {
			return res, err
		}
		firstErr := err
		for _, s := range strategies {
			a.log.Warn("newton iteration failed, trying recovery", "strategy", s.name, "point", a.point, "error", err)
			if a.opts.Recorder != nil {
				a.opts.Recorder.RecoveryEngaged(a.name, s.name)
			}
			res, err = s.solve(guess, status)
			if err == nil || !errors.Is(err, ErrConvergence) {
				return res, err
			}
		}
		if len(strategies) == 0 {
			return res, firstErr
		}
		return res, err
	}
}

// solvePoint is the operating point solve used by every driver.
func (a *BaseAnalysis) solvePoint(guess []float64, status *device.CircuitStatus, maxIter int) (nrResult, error) {
	return a.withRecovery(a.newton(maxIter))(guess, status)
}
