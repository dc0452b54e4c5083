package matrix

// DeviceMatrix is the stamping surface devices write into.
// Indices are 1-based; index 0 is ground and is silently skipped.
type DeviceMatrix interface {
	AddElement(i, j int, value float64)
	AddRHS(i int, value float64)
	AddComplexElement(i, j int, real, imag float64)
	AddComplexRHS(i int, real, imag float64)

	StampConductance(n1, n2 int, g float64)
	StampAdmittance(n1, n2 int, g, b float64)
	StampCurrentSource(n1, n2 int, i float64)
	StampComplexCurrentSource(n1, n2 int, re, im float64)
	StampVoltageSource(nPos, nNeg, branch int, v float64)
	StampTransconductance(outP, outN, ctlP, ctlN int, gm float64)
}
