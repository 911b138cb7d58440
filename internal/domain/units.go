package domain

import (
	"math"
	"path/filepath"
	"strings"
)

// InchToMeter converts the instrument's inch readings to meters.
const InchToMeter = 0.0254

// DefaultSampleRate is used when the time series cannot yield a rate (Hz).
const DefaultSampleRate = 100.0

// Direction names one of the three instrumented displacement axes.
type Direction string

const (
	DirectionH1 Direction = "H1"
	DirectionH2 Direction = "H2"
	DirectionV  Direction = "V"
)

// InchesToMeters converts a length in inches to meters.
func InchesToMeters(in float64) float64 { return in * InchToMeter }

// MetersToInches converts a length in meters to inches.
func MetersToInches(m float64) float64 { return m / InchToMeter }

// ToYUp remaps a Z-up source vector to the Y-up convention consumers expect
// by swapping the second and third components. It is the only axis remap in
// the build.
func ToYUp(v Vec3) Vec3 {
	return Vec3{v[0], v[2], v[1]}
}

// ParseDirection extracts the direction from a file name of the form
// <prefix>_<H1|H2|V>_<suffix>. Directories are ignored.
func ParseDirection(filename string) (Direction, error) {
	parts := strings.Split(filepath.Base(filename), "_")
	if len(parts) < 2 {
		return "", &UnknownDirectionError{Filename: filename}
	}
	switch d := Direction(parts[1]); d {
	case DirectionH1, DirectionH2, DirectionV:
		return d, nil
	default:
		return "", &UnknownDirectionError{Filename: filename}
	}
}

func hypot3(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}
