// Package joystick defines the controller state shared between input sources
// and the command bridge.
package joystick

import (
	"fmt"

	"ptz-bridge/internal/watch"
)

// State is a snapshot of the three control axes.
// Values are nominally in [-1.0, 1.0] but producers are not required to clamp.
type State struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (s State) String() string {
	return fmt.Sprintf("x=%.3f y=%.3f z=%.3f", s.X, s.Y, s.Z)
}

// Cell is the single-slot channel input sources publish into
type Cell = watch.Cell[State]

// Receiver waits for new states published into a Cell
type Receiver = watch.Receiver[State]

// NewCell returns a cell holding the centered state
func NewCell() *Cell {
	return watch.NewCell(State{})
}
