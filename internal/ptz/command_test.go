package ptz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "Stop", Stop.String())
	assert.Equal(t, "DownRight", DownRight.String())
	assert.Equal(t, "Direction(42)", Direction(42).String())
	assert.Equal(t, "Direction(-1)", Direction(-1).String())
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "UpLeft pan=3 tilt=7", PanTilt{Direction: UpLeft, PanSpeed: 3, TiltSpeed: 7}.String())
	assert.Equal(t, "zoom=16500", ZoomDirect{Position: 16500}.String())
}

func TestDirectionText(t *testing.T) {
	for d := Stop; d <= DownRight; d++ {
		text, err := d.MarshalText()
		assert.NoError(t, err)

		var got Direction
		assert.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, d, got)
	}

	var d Direction
	assert.Error(t, d.UnmarshalText([]byte("Sideways")))
}
