package util

import (
	"fmt"
	"math"
	"strings"
)

type IntegrationMethod int

const (
	TrapezoidalMethod IntegrationMethod = iota
	BackwardEulerMethod
)

func (m IntegrationMethod) String() string {
	switch m {
	case BackwardEulerMethod:
		return "be"
	default:
		return "trap"
	}
}

func ParseIntegrationMethod(s string) (IntegrationMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trap", "trapezoidal", "tr":
		return TrapezoidalMethod, nil
	case "be", "euler", "gear1":
		return BackwardEulerMethod, nil
	}
	return TrapezoidalMethod, fmt.Errorf("unknown integration method %q", s)
}

// Order of the local truncation error of the method.
func (m IntegrationMethod) Order() int {
	if m == BackwardEulerMethod {
		return 1
	}
	return 2
}

// Integrate advances a charge (or flux) state q over dt.
// Returns the state derivative at the new point and the companion
// conductance for an incremental capacitance c.
//
//	trap: i = 2/dt*(q - qPrev) - iPrev
//	be:   i = 1/dt*(q - qPrev)
func Integrate(method IntegrationMethod, dt, q, qPrev, iPrev, c float64) (i, geq float64) {
	if method == BackwardEulerMethod {
		ag := 1.0 / dt
		return ag * (q - qPrev), ag * c
	}
	ag := 2.0 / dt
	return ag*(q-qPrev) - iPrev, ag * c
}

// TruncationError compares the trapezoidal and backward-Euler updates of a
// state over dt, given the state derivatives at both ends of the step.
func TruncationError(dt, i, iPrev float64) float64 {
	return 0.5 * dt * math.Abs(i-iPrev)
}

// StepFactor is the timestep scale for an error ratio err/tol.
func StepFactor(ratio float64, maxGrowth float64) float64 {
	if ratio <= 0 || math.IsNaN(ratio) {
		return maxGrowth
	}
	f := math.Sqrt(1.0 / ratio)
	if f > maxGrowth {
		f = maxGrowth
	}
	return f
}
