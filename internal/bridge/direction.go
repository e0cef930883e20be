package bridge

import "ptz-bridge/internal/ptz"

// Classify maps signed pan (x) and tilt (y) speeds onto a drive direction.
// A positive y speed means the stick is pulled back, which drives the camera Down.
func Classify(x, y int8) ptz.Direction {
	switch {
	case x == 0 && y == 0:
		return ptz.Stop
	case x == 0 && y > 0:
		return ptz.Down
	case x == 0:
		return ptz.Up
	case x > 0 && y == 0:
		return ptz.Right
	case x > 0 && y > 0:
		return ptz.DownRight
	case x > 0:
		return ptz.UpRight
	case y == 0:
		return ptz.Left
	case y > 0:
		return ptz.DownLeft
	default:
		return ptz.UpLeft
	}
}
