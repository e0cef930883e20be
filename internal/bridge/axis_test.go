package bridge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAxisSpeed(t *testing.T) {
	cases := []struct {
		name      string
		position  float64
		max       uint8
		threshold float64
		want      int8
	}{
		{"centered", 0, 24, 0.25, 0},
		{"just inside dead zone", 0.25 - 1e-6, 24, 0.25, 0},
		{"dead zone edge", 0.25, 24, 0.25, 0},
		{"half travel", 0.625, 24, 0.25, 12},
		{"full right", 1.0, 24, 0.25, 24},
		{"full left", -1.0, 24, 0.25, -24},
		{"clamped high", 1.7, 24, 0.25, 24},
		{"clamped low", -3, 20, 0.25, -20},
		{"no dead zone", 0.5, 20, 0, 10},
		{"rounds half away from zero", 0.2734375, 16, 0.25, 1},
		{"negative zero", math.Copysign(0, -1), 24, 0, 0},
		{"max above int8 range", 1.0, 200, 0, 127},
		{"quarter travel above int8 range", 0.25, 200, 0, 32},
		{"negative above int8 range", -1.0, 255, 0, -127},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AxisSpeed(tc.position, tc.max, tc.threshold))
		})
	}
}

func TestAxisSpeedProperties(t *testing.T) {
	thresholds := []float64{0, 0.1, 0.25, 0.5, 0.9}
	maxima := []uint8{1, 16, 20, 24, 127, 128, 255}

	for _, threshold := range thresholds {
		for _, max := range maxima {
			for i := -100; i <= 100; i++ {
				p := float64(i) / 100
				got := AxisSpeed(p, max, threshold)

				if math.Abs(p) < threshold {
					assert.Zero(t, got, "p=%v t=%v", p, threshold)
				}
				if got != 0 {
					assert.GreaterOrEqual(t, math.Abs(p), threshold, "p=%v t=%v", p, threshold)
					assert.Equal(t, p < 0, got < 0, "sign of p=%v got=%d", p, got)
				}
				assert.LessOrEqual(t, math.Abs(float64(got)), math.Min(float64(max), math.MaxInt8))
			}
		}
	}
}

func TestZoomLevel(t *testing.T) {
	assert.Equal(t, uint16(16500), ZoomLevel(1.0, 16500))
	assert.Equal(t, uint16(16500), ZoomLevel(0.995, 16500))
	assert.Equal(t, uint16(0), ZoomLevel(-1.0, 16500))
	assert.Equal(t, uint16(0), ZoomLevel(-0.995, 16500))
	assert.Equal(t, uint16(8250), ZoomLevel(0, 16500))
	assert.Equal(t, uint16(12375), ZoomLevel(0.5, 16500))
	assert.Equal(t, uint16(16500), ZoomLevel(4, 16500))
	assert.Equal(t, uint16(1000), ZoomLevel(1, 1000))
}

func TestZoomLevelMonotonic(t *testing.T) {
	prev := ZoomLevel(-1, DefaultMaxZoom)
	for i := -1000; i <= 1000; i++ {
		z := ZoomLevel(float64(i)/1000, DefaultMaxZoom)
		assert.GreaterOrEqual(t, z, prev, "position %v", float64(i)/1000)
		prev = z
	}
}
