// Package units converts between the angle units used in configuration
// files (degrees) and those used by the pipeline (radians).
package units

import "math"

// Angle unit names accepted where a unit is configurable.
const (
	Degrees = "deg"
	Radians = "rad"
)

// ValidUnits contains all valid angle unit names.
var ValidUnits = []string{Degrees, Radians}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// ToRadians converts an angle in the given unit to radians. Unknown units
// are treated as degrees.
func ToRadians(angle float64, unit string) float64 {
	if unit == Radians {
		return angle
	}
	return DegToRad(angle)
}
