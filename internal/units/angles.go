// Package units provides shared angle and distance helpers for the survey
// pipeline. Angles are degrees in [0,360) unless a function says otherwise;
// distances are meters.
package units

import (
	"fmt"
	"math"
)

// NormalizeDegrees maps any angle onto [0,360). Negative input wraps, so
// -10 becomes 350 and 372 becomes 12.
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// SectorCount returns the number of sectors for the given width. Widths that
// do not divide 360 evenly are rejected by config validation before they get
// here; the count still rounds to cover the full circle.
func SectorCount(widthDeg float64) int {
	if widthDeg <= 0 {
		return 0
	}
	return int(math.Round(360 / widthDeg))
}

// SectorIndex bins a (possibly unnormalized) angle into a sector. The angle
// is normalized first, rounded to the nearest sector boundary, then reduced
// modulo the sector count so 358 degrees with 5 degree sectors lands in
// sector 0, not a phantom sector 72.
func SectorIndex(angleDeg, widthDeg float64) int {
	n := SectorCount(widthDeg)
	if n == 0 {
		return 0
	}
	idx := int(math.Round(NormalizeDegrees(angleDeg) / widthDeg))
	return ((idx % n) + n) % n
}

// SectorAngle returns the center-line angle in degrees for a sector index.
func SectorAngle(index int, widthDeg float64) float64 {
	return NormalizeDegrees(float64(index) * widthDeg)
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// FormatDistance renders a distance for overlay labels: centimeters below
// one meter, otherwise meters with one decimal.
func FormatDistance(meters float64) string {
	if meters < 1.0 {
		return fmt.Sprintf("%.0fcm", meters*100)
	}
	return fmt.Sprintf("%.1fm", meters)
}
