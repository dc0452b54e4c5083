package analysis

import (
	"errors"
	"fmt"

	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
)

var (
	ErrSingularMatrix    = matrix.ErrSingularMatrix
	ErrFactorization     = matrix.ErrFactorization
	ErrInvalidParameters = device.ErrInvalidParameters

	ErrConvergence    = errors.New("convergence failure")
	ErrCancelled      = errors.New("analysis cancelled")
	ErrInvalidRequest = errors.New("invalid analysis request")
)

// ConvergenceError describes the point at which Newton iteration and every
// enabled recovery strategy gave up.
type ConvergenceError struct {
	Analysis   string
	Point      float64 // sweep value, or time in transient
	Node       string  // unknown furthest from convergence
	Residual   float64 // its change in the last iteration
	Iterations int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s: no convergence at %g after %d iterations (worst %s, change %.3g)",
		e.Analysis, e.Point, e.Iterations, e.Node, e.Residual)
}

func (e *ConvergenceError) Is(target error) bool { return target == ErrConvergence }
