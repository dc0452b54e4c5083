package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type Spacing int

const (
	Decade Spacing = iota
	Octave
	Linear
)

func (s Spacing) String() string {
	switch s {
	case Octave:
		return "OCT"
	case Linear:
		return "LIN"
	default:
		return "DEC"
	}
}

func ParseSpacing(s string) (Spacing, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEC":
		return Decade, nil
	case "OCT":
		return Octave, nil
	case "LIN":
		return Linear, nil
	}
	return Decade, fmt.Errorf("%w: unknown frequency spacing %q", ErrInvalidRequest, s)
}

type ACAnalysis struct {
	BaseAnalysis
	req         ACRequest
	opMat       *matrix.CircuitMatrix
	frequencies []float64
}

func NewAC(req ACRequest, opts Options) *ACAnalysis {
	return &ACAnalysis{
		BaseAnalysis: newBaseAnalysis("ac", opts),
		req:          req,
	}
}

func (ac *ACAnalysis) Setup(ckt *circuit.Circuit) error {
	if err := ac.setup(ckt, true); err != nil {
		return err
	}
	freqs, err := generateFrequencyPoints(ac.req)
	if err != nil {
		return err
	}
	ac.frequencies = freqs

	ac.opMat = ckt.NewMatrix(false)
	if ac.opts.DenseThreshold > 0 {
		ac.opMat.SetSolver(matrix.NewAutoSolver(ac.opts.DenseThreshold))
	}
	return nil
}

func (ac *ACAnalysis) Frequencies() []float64 { return ac.frequencies }

func (ac *ACAnalysis) Execute(ctx context.Context) error {
	if err := ac.begin(); err != nil {
		return err
	}
	if err := ac.cancelled(ctx); err != nil {
		return ac.finish(err)
	}

	// operating point on the real system
	acMat := ac.mat
	ac.mat = ac.opMat
	res, err := ac.solvePoint(ac.zeroGuess(), ac.newStatus(device.OperatingPointAnalysis), ac.opts.Itl1)
	ac.mat = acMat
	if err != nil {
		return ac.finish(fmt.Errorf("operating point: %w", err))
	}
	opSol := res.x

	status := ac.newStatus(device.ACAnalysis)
	for i, freq := range ac.frequencies {
		ac.point = freq
		status.Frequency = freq

		ac.mat.Clear()
		if err := ac.Circuit.Stamp(ac.mat, opSol, status); err != nil {
			return ac.finish(fmt.Errorf("stamping error at f=%g: %w", freq, err))
		}
		if err := ac.mat.Solve(); err != nil {
			return ac.finish(fmt.Errorf("matrix solve error at f=%g: %w", freq, err))
		}

		sol := ac.mat.ComplexSolution()
		ac.results.ACPoints = append(ac.results.ACPoints, ACPoint{
			Frequency: freq,
			Solution:  append([]complex128(nil), sol[1:]...),
		})
		ac.log.Debug("frequency solved", "f", freq)
		ac.observe(1)

		if err := ac.checkpoint(ctx, freq, float64(i+1)/float64(len(ac.frequencies))); err != nil {
			return ac.finish(err)
		}
	}
	return ac.finish(nil)
}

// generateFrequencyPoints follows the SPICE convention: Points per decade
// or octave for DEC and OCT, Points in total for LIN.
func generateFrequencyPoints(req ACRequest) ([]float64, error) {
	if !(req.FStart > 0) || !(req.FStop >= req.FStart) || math.IsInf(req.FStop, 0) {
		return nil, fmt.Errorf("%w: need 0 < fstart <= fstop, got %g..%g", ErrInvalidRequest, req.FStart, req.FStop)
	}
	if req.Points < 1 {
		return nil, fmt.Errorf("%w: points must be at least 1", ErrInvalidRequest)
	}

	var frequencies []float64
	switch req.Spacing {
	case Decade, Octave:
		base := 10.0
		if req.Spacing == Octave {
			base = 2
		}
		span := math.Log(req.FStop/req.FStart) / math.Log(base)
		n := int(math.Floor(span*float64(req.Points)+1e-9)) + 1
		for i := range n {
			frequencies = append(frequencies, req.FStart*math.Pow(base, float64(i)/float64(req.Points)))
		}
		if last := frequencies[len(frequencies)-1]; last < req.FStop*(1-1e-9) {
			frequencies = append(frequencies, req.FStop)
		}

	case Linear:
		if req.Points == 1 {
			return []float64{req.FStart}, nil
		}
		step := (req.FStop - req.FStart) / float64(req.Points-1)
		for i := range req.Points {
			frequencies = append(frequencies, req.FStart+float64(i)*step)
		}

	default:
		return nil, fmt.Errorf("%w: unknown spacing %d", ErrInvalidRequest, int(req.Spacing))
	}
	return frequencies, nil
}
