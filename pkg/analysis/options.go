package analysis

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/edp1096/spicecore/pkg/util"
)

// Options are the solver tolerances and iteration limits shared by all
// analyses. The zero value is not usable; start from DefaultOptions.
type Options struct {
	Abstol float64 `yaml:"abstol"` // branch current tolerance (A)
	Reltol float64 `yaml:"reltol"`
	Vntol  float64 `yaml:"vntol"` // node voltage tolerance (V)
	Gmin   float64 `yaml:"gmin"`  // junction shunt conductance (S)

	Itl1 int `yaml:"itl1"` // DC operating point iterations
	Itl2 int `yaml:"itl2"` // DC sweep point and recovery step iterations
	Itl4 int `yaml:"itl4"` // transient timepoint iterations

	Trtol  float64 `yaml:"trtol"`
	Temp   float64 `yaml:"temp"`   // degC
	Method string  `yaml:"method"` // trap or be
	HMin   float64 `yaml:"hmin"`   // 0 derives from the request
	HMax   float64 `yaml:"hmax"`   // 0 derives from the request

	GminStepping   bool    `yaml:"gmin_stepping"`
	GminStart      float64 `yaml:"gmin_start"`
	GminSteps      int     `yaml:"gmin_steps"`
	SourceStepping bool    `yaml:"source_stepping"`
	SrcSteps       int     `yaml:"src_steps"`

	// DenseThreshold selects dense LU up to this many unknowns.
	DenseThreshold int `yaml:"dense_threshold"`

	Logger   *slog.Logger        `yaml:"-"`
	Progress func(Progress) bool `yaml:"-"` // true requests cancellation
	Recorder Recorder            `yaml:"-"`
}

// Progress is reported after every accepted point.
type Progress struct {
	Analysis string
	Point    int     // accepted points so far
	X        float64 // sweep value, frequency or time
	Fraction float64 // 0..1
}

// Recorder receives solver statistics. Implementations must be safe for
// concurrent use when shared across runs.
type Recorder interface {
	ObservePoint(analysis string, iterations int)
	RecoveryEngaged(analysis, strategy string)
	StepRejected(analysis, reason string)
	AnalysisFinished(analysis string, state State, elapsed time.Duration)
}

func DefaultOptions() Options {
	return Options{
		Abstol:         1e-12,
		Reltol:         1e-3,
		Vntol:          1e-6,
		Gmin:           1e-12,
		Itl1:           100,
		Itl2:           50,
		Itl4:           10,
		Trtol:          7,
		Temp:           27,
		Method:         util.TrapezoidalMethod.String(),
		GminStepping:   true,
		GminStart:      1e-2,
		GminSteps:      100,
		SourceStepping: true,
		SrcSteps:       100,
		DenseThreshold: 16,
	}
}

func (o Options) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{{"abstol", o.Abstol}, {"reltol", o.Reltol}, {"vntol", o.Vntol}, {"trtol", o.Trtol}} {
		if !(p.v > 0) {
			return fmt.Errorf("%w: option %s=%g must be positive", ErrInvalidRequest, p.name, p.v)
		}
	}
	if !(o.Gmin >= 0) || !(o.HMin >= 0) || !(o.HMax >= 0) {
		return fmt.Errorf("%w: gmin, hmin and hmax must not be negative", ErrInvalidRequest)
	}
	for _, p := range []struct {
		name string
		v    int
	}{{"itl1", o.Itl1}, {"itl2", o.Itl2}, {"itl4", o.Itl4}} {
		if p.v < 1 {
			return fmt.Errorf("%w: option %s=%d must be at least 1", ErrInvalidRequest, p.name, p.v)
		}
	}
	if o.GminStepping && (!(o.GminStart > o.Gmin) || o.GminSteps < 1) {
		return fmt.Errorf("%w: gmin stepping needs gmin_start above gmin and gmin_steps >= 1", ErrInvalidRequest)
	}
	if o.SourceStepping && o.SrcSteps < 1 {
		return fmt.Errorf("%w: source stepping needs src_steps >= 1", ErrInvalidRequest)
	}
	if _, err := util.ParseIntegrationMethod(o.Method); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (o Options) method() util.IntegrationMethod {
	m, _ := util.ParseIntegrationMethod(o.Method)
	return m
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
