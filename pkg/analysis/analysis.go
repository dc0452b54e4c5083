package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

type Analysis interface {
	Setup(ckt *circuit.Circuit) error
	Execute(ctx context.Context) error
	GetResults() *Result
	State() State
}

// Request selects an analysis. The set of variants is closed.
type Request interface {
	Name() string
	isRequest()
}

type OPRequest struct{}

// DCSweepRequest sweeps the DC value of an independent V or I source
// from Start to Stop inclusive.
type DCSweepRequest struct {
	Source            string
	Start, Stop, Step float64
}

// ACRequest visits Points frequencies per decade (DEC) or octave (OCT),
// or Points frequencies in total (LIN).
type ACRequest struct {
	FStart, FStop float64
	Points        int
	Spacing       Spacing
}

// TransientRequest integrates from 0 to Stop. Step is the print interval
// and bounds the default maximum step; MaxStep overrides that bound.
// Points before Start are computed but not recorded.
type TransientRequest struct {
	Step, Stop, Start, MaxStep float64
	UseIC                      bool
}

func (OPRequest) Name() string        { return "op" }
func (DCSweepRequest) Name() string   { return "dc" }
func (ACRequest) Name() string        { return "ac" }
func (TransientRequest) Name() string { return "tran" }

func (OPRequest) isRequest()        {}
func (DCSweepRequest) isRequest()   {}
func (ACRequest) isRequest()        {}
func (TransientRequest) isRequest() {}

// New returns the driver for req.
func New(req Request, opts Options) (Analysis, error) {
	switch r := req.(type) {
	case OPRequest:
		return NewOP(opts), nil
	case *OPRequest:
		return NewOP(opts), nil
	case DCSweepRequest:
		return NewDCSweep(r, opts), nil
	case *DCSweepRequest:
		return NewDCSweep(*r, opts), nil
	case ACRequest:
		return NewAC(r, opts), nil
	case *ACRequest:
		return NewAC(*r, opts), nil
	case TransientRequest:
		return NewTransient(r, opts), nil
	case *TransientRequest:
		return NewTransient(*r, opts), nil
	}
	return nil, fmt.Errorf("%w: unsupported request %T", ErrInvalidRequest, req)
}

// Run sets up and executes one analysis on ckt. On cancellation the
// partial result is returned together with ErrCancelled.
func Run(ctx context.Context, ckt *circuit.Circuit, req Request, opts Options) (*Result, error) {
	a, err := New(req, opts)
	if err != nil {
		return nil, err
	}
	if err := a.Setup(ckt); err != nil {
		return nil, err
	}
	err = a.Execute(ctx)
	return a.GetResults(), err
}

type BaseAnalysis struct {
	Circuit *circuit.Circuit

	name    string
	opts    Options
	log     *slog.Logger
	state   State
	results *Result
	mat     *matrix.CircuitMatrix
	started time.Time
	point   float64 // sweep value or time being solved
}

func newBaseAnalysis(name string, opts Options) BaseAnalysis {
	return BaseAnalysis{
		name: name,
		opts: opts,
		log:  opts.logger().With("analysis", name),
	}
}

func (a *BaseAnalysis) State() State { return a.state }

func (a *BaseAnalysis) GetResults() *Result { return a.results }

// setup validates options and allocates the system for ckt.
func (a *BaseAnalysis) setup(ckt *circuit.Circuit, isComplex bool) error {
	if ckt == nil {
		return fmt.Errorf("%w: circuit not set", ErrInvalidRequest)
	}
	if !ckt.Built() {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, circuit.ErrNotBuilt)
	}
	if err := a.opts.Validate(); err != nil {
		return err
	}
	a.Circuit = ckt
	a.mat = ckt.NewMatrix(isComplex)
	if a.opts.DenseThreshold > 0 {
		a.mat.SetSolver(matrix.NewAutoSolver(a.opts.DenseThreshold))
	}
	a.state = Idle
	a.results = nil
	return nil
}

func (a *BaseAnalysis) begin() error {
	if a.Circuit == nil || a.mat == nil {
		return fmt.Errorf("%w: %s analysis not set up", ErrInvalidRequest, a.name)
	}
	a.Circuit.Reset()
	a.results = newResult(a.name, a.Circuit)
	a.state = Running
	a.started = time.Now()
	a.log.Info("analysis started", "circuit", a.Circuit.Name(), "unknowns", a.Circuit.Size())
	return nil
}

// finish records the terminal state for err.
func (a *BaseAnalysis) finish(err error) error {
	switch {
	case err == nil:
		a.state = Completed
	case isCancel(err):
		a.state = Cancelled
	default:
		a.state = Failed
	}
	elapsed := time.Since(a.started)
	if err != nil && a.state == Failed {
		a.log.Error("analysis failed", "error", err, "points", len(a.results.Points)+len(a.results.ACPoints))
	} else {
		a.log.Info("analysis finished", "state", a.state, "points", len(a.results.Points)+len(a.results.ACPoints),
			"iterations", a.results.Stats.Iterations, "elapsed", elapsed)
	}
	if a.opts.Recorder != nil {
		a.opts.Recorder.AnalysisFinished(a.name, a.state, elapsed)
	}
	return err
}

func (a *BaseAnalysis) newStatus(mode device.AnalysisMode) *device.CircuitStatus {
	return &device.CircuitStatus{
		Mode:   mode,
		Gmin:   a.opts.Gmin,
		Temp:   a.opts.Temp,
		Method: a.opts.method(),
	}
}

func (a *BaseAnalysis) zeroGuess() []float64 {
	return make([]float64, a.Circuit.Size()+1)
}

// checkpoint reports an accepted point and honours cancellation requests.
func (a *BaseAnalysis) checkpoint(ctx context.Context, x, fraction float64) error {
	accepted := len(a.results.Points) + len(a.results.ACPoints)
	if a.opts.Progress != nil {
		stop := a.opts.Progress(Progress{Analysis: a.name, Point: accepted, X: x, Fraction: fraction})
		if stop {
			return fmt.Errorf("%w: stopped by progress callback at %g", ErrCancelled, x)
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w at %g: %w", ErrCancelled, x, err)
	}
	return nil
}

func (a *BaseAnalysis) cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

func isCancel(err error) bool {
	return err != nil && errors.Is(err, ErrCancelled)
}
