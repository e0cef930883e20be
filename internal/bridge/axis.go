package bridge

import "math"

// DefaultMaxZoom is the zoom position of full telephoto on the cameras this was
// built for
const DefaultMaxZoom = 16500

// AxisSpeed converts a stick position into a signed speed in [-maxSpeed, maxSpeed].
// maxSpeed is capped at math.MaxInt8.
//
// Positions inside the dead zone (|position| < threshold) give 0. The remaining
// travel is rescaled linearly so the first step past the dead zone starts at
// zero speed. The sign follows the sign bit of position, so -0.0 counts as
// negative.
func AxisSpeed(position float64, maxSpeed uint8, threshold float64) int8 {
	position = math.Max(-1, math.Min(1, position))
	maxSpeed = min(maxSpeed, math.MaxInt8)
	abs := math.Abs(position)

	if abs < threshold {
		return 0
	}

	pct := (abs - threshold) / (1 - threshold)
	speed := int8(math.Round(float64(maxSpeed) * pct))

	if math.Signbit(position) {
		return -speed
	}
	return speed
}

// ZoomLevel maps an axis position onto an absolute zoom position in
// [0, maxZoom]. The ends saturate slightly early so a trigger that never quite
// reaches ±1.0 still reaches full wide and full telephoto.
func ZoomLevel(position float64, maxZoom uint16) uint16 {
	if position > 0.99 {
		return maxZoom
	}
	if position < -0.99 {
		return 0
	}

	pct := position/2 + 0.5
	return uint16(math.Floor(float64(maxZoom) * pct))
}
