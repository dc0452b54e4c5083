package util

import (
	"fmt"
	"math"
	"math/cmplx"
)

var prefixes = []struct {
	scale  float64
	symbol string
}{
	{1e12, "T"},
	{1e9, "G"},
	{1e6, "M"},
	{1e3, "k"},
	{1, ""},
	{1e-3, "m"},
	{1e-6, "u"},
	{1e-9, "n"},
	{1e-12, "p"},
	{1e-15, "f"},
}

func FormatValueFactor(value float64, unit string) string {
	if value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Sprintf("%.3f %s", value, unit)
	}
	absValue := math.Abs(value)
	for _, p := range prefixes {
		if absValue >= p.scale {
			return fmt.Sprintf("%.3f %s%s", value/p.scale, p.symbol, unit)
		}
	}
	return fmt.Sprintf("%.3e %s", value, unit)
}

func FormatFrequency(freq float64) string {
	switch {
	case freq >= 1e9:
		return fmt.Sprintf("%7.3f GHz", freq/1e9)
	case freq >= 1e6:
		return fmt.Sprintf("%7.3f MHz", freq/1e6)
	case freq >= 1e3:
		return fmt.Sprintf("%7.3f kHz", freq/1e3)
	default:
		return fmt.Sprintf("%7.3f Hz ", freq)
	}
}

func FormatMagnitude(value float64) string {
	if value >= 1000 || (value < 0.001 && value != 0) {
		return fmt.Sprintf("%8.2e", value)
	}
	return fmt.Sprintf("%8.3g", value)
}

func FormatPhase(value float64) string {
	return fmt.Sprintf("%6.1f", value)
}

// FormatPhasor renders a complex value as magnitude<phase.
func FormatPhasor(name string, c complex128) string {
	return fmt.Sprintf("%s=%s<%sdeg", name, FormatMagnitude(cmplx.Abs(c)), FormatPhase(PhaseDeg(c)))
}

func PhaseDeg(c complex128) float64 {
	return cmplx.Phase(c) * 180.0 / math.Pi
}

func Decibel(c complex128) float64 {
	mag := cmplx.Abs(c)
	if mag == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}
