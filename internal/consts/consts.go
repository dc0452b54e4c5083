package consts

const (
	CHARGE    = 1.6021918e-19 // Elementary charge (C)
	BOLTZMANN = 1.3806226e-23 // Boltzmann constant (J/K)
	KELVIN    = 273.15        // 0 degC in K

	TNOM   = 27.0         // Nominal model temperature (degC)
	EG_SI  = 1.11         // Silicon bandgap (eV)
	XTI_PN = 3.0          // Saturation current temperature exponent
	EPS_OX = 3.453133e-11 // Oxide permittivity (F/m)
)

// ThermalVoltage returns kT/q at the given temperature in degC.
func ThermalVoltage(tempC float64) float64 {
	return BOLTZMANN * (tempC + KELVIN) / CHARGE
}
