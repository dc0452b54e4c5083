package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
)

type DCSweep struct {
	BaseAnalysis
	req       DCSweepRequest
	source    device.Source
	sweepVals []float64
}

func NewDCSweep(req DCSweepRequest, opts Options) *DCSweep {
	return &DCSweep{
		BaseAnalysis: newBaseAnalysis("dc", opts),
		req:          req,
	}
}

func (dc *DCSweep) Setup(ckt *circuit.Circuit) error {
	if err := dc.setup(ckt, false); err != nil {
		return err
	}
	src, err := ckt.Source(dc.req.Source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	vals, err := sweepValues(dc.req.Start, dc.req.Stop, dc.req.Step)
	if err != nil {
		return err
	}
	dc.source = src
	dc.sweepVals = vals
	return nil
}

// maxSweepPoints bounds the length of a DC sweep.
const maxSweepPoints = 1_000_000

// sweepValues lists start, start+step, ... up to stop inclusive. The last
// value is snapped to stop when within rounding of it.
func sweepValues(start, stop, step float64) ([]float64, error) {
	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sweep bounds must be finite", ErrInvalidRequest)
		}
	}
	if step == 0 {
		return nil, fmt.Errorf("%w: zero sweep step", ErrInvalidRequest)
	}
	if (stop-start)*step < 0 {
		return nil, fmt.Errorf("%w: step %g does not move from %g toward %g", ErrInvalidRequest, step, start, stop)
	}

	count := math.Floor((stop-start)/step+1e-9) + 1
	if count > maxSweepPoints {
		return nil, fmt.Errorf("%w: sweep of %g points exceeds %d", ErrInvalidRequest, count, maxSweepPoints)
	}
	n := int(count)
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = start + float64(i)*step
	}
	if math.Abs(vals[n-1]-stop) <= 1e-9*math.Abs(step) {
		vals[n-1] = stop
	}
	return vals, nil
}

func (dc *DCSweep) Execute(ctx context.Context) error {
	if err := dc.begin(); err != nil {
		return err
	}
	if err := dc.cancelled(ctx); err != nil {
		return dc.finish(err)
	}

	status := dc.newStatus(device.DCSweep)
	status.Swept = dc.source
	guess := dc.zeroGuess()
	for i, v := range dc.sweepVals {
		status.SweepValue = v
		dc.point = v

		// the first point has no warm start
		maxIter := dc.opts.Itl2
		if i == 0 {
			maxIter = dc.opts.Itl1
		}
		res, err := dc.solvePoint(guess, status, maxIter)
		if err != nil {
			return dc.finish(fmt.Errorf("sweep %s=%g: %w", dc.source.GetName(), v, err))
		}
		dc.record(v, res)
		guess = res.x

		if err := dc.checkpoint(ctx, v, float64(i+1)/float64(len(dc.sweepVals))); err != nil {
			return dc.finish(err)
		}
	}
	return dc.finish(nil)
}
