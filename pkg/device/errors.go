package device

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidParameters = errors.New("invalid device parameters")

// ParamError names the device and parameter outside its valid domain.
type ParamError struct {
	Device string
	Param  string
	Value  float64
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("device %s: parameter %s=%g %s", e.Device, e.Param, e.Value, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParameters }

func checkPositive(dev, param string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return &ParamError{Device: dev, Param: param, Value: v, Reason: "must be positive"}
	}
	return nil
}

func checkNonNegative(dev, param string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return &ParamError{Device: dev, Param: param, Value: v, Reason: "must not be negative"}
	}
	return nil
}

func checkFinite(dev, param string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ParamError{Device: dev, Param: param, Value: v, Reason: "must be finite"}
	}
	return nil
}

func checkNodes(dev string, nodes []string, want int) error {
	if len(nodes) != want {
		return &ParamError{Device: dev, Param: "nodes", Value: float64(len(nodes)), Reason: fmt.Sprintf("requires exactly %d nodes", want)}
	}
	return nil
}
