package domain

// Unit option values. Each dimension accepts the values listed next to it.
const (
	TorqueNewtonMeters = "newton_meters"
	TorquePoundFeet    = "pound_feet"

	PressurePSI        = "psi"
	PressureBar        = "bar"
	PressureKilopascal = "kpa"

	SystemMetric   = "metric"
	SystemImperial = "imperial"

	TemperatureCelsius    = "celsius"
	TemperatureFahrenheit = "fahrenheit"
)

// UnitPreferences selects the unit family the answer should use per dimension.
type UnitPreferences struct {
	Torque      string `json:"torque_unit"`
	Pressure    string `json:"pressure_unit"`
	Length      string `json:"length_unit"`
	Volume      string `json:"volume_unit"`
	Temperature string `json:"temperature_unit"`
	Weight      string `json:"weight_unit"`
	Socket      string `json:"socket_unit"`
}

// DefaultUnits are US customary units.
func DefaultUnits() UnitPreferences {
	return UnitPreferences{
		Torque:      TorquePoundFeet,
		Pressure:    PressurePSI,
		Length:      SystemImperial,
		Volume:      SystemImperial,
		Temperature: TemperatureFahrenheit,
		Weight:      SystemImperial,
		Socket:      SystemImperial,
	}
}

// MetricUnits are SI units throughout.
func MetricUnits() UnitPreferences {
	return UnitPreferences{
		Torque:      TorqueNewtonMeters,
		Pressure:    PressureKilopascal,
		Length:      SystemMetric,
		Volume:      SystemMetric,
		Temperature: TemperatureCelsius,
		Weight:      SystemMetric,
		Socket:      SystemMetric,
	}
}
