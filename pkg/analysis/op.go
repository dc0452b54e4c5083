package analysis

import (
	"context"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
)

type OperatingPoint struct{ BaseAnalysis }

func NewOP(opts Options) *OperatingPoint {
	return &OperatingPoint{BaseAnalysis: newBaseAnalysis("op", opts)}
}

func (op *OperatingPoint) Setup(ckt *circuit.Circuit) error {
	return op.setup(ckt, false)
}

func (op *OperatingPoint) Execute(ctx context.Context) error {
	if err := op.begin(); err != nil {
		return err
	}
	if err := op.cancelled(ctx); err != nil {
		return op.finish(err)
	}

	status := op.newStatus(device.OperatingPointAnalysis)
	res, err := op.solvePoint(op.zeroGuess(), status, op.opts.Itl1)
	if err != nil {
		return op.finish(err)
	}
	op.record(0, res)
	return op.finish(op.checkpoint(ctx, 0, 1))
}

// record appends a converged real point.
func (a *BaseAnalysis) record(x float64, res nrResult) {
	a.results.Points = append(a.results.Points, Point{
		X:          x,
		Solution:   solutionVector(res.x),
		Iterations: res.iterations,
		Residual:   res.residual,
	})
	a.log.Debug("point converged", "x", x, "iterations", res.iterations, "residual", res.residual)
	a.observe(res.iterations)
}

// observe counts one recorded point.
func (a *BaseAnalysis) observe(iterations int) {
	if a.opts.Recorder != nil {
		a.opts.Recorder.ObservePoint(a.name, iterations)
	}
}
