package ptz

import (
	"context"
	"errors"
	"fmt"
)

// Camera-imposed speed ceilings
const (
	MaxPanSpeed  = 24
	MaxTiltSpeed = 20
)

// ErrClosed is returned by a Transport after Close
var ErrClosed = errors.New("transport closed")

// Direction is one of the nine pan/tilt drive directions
type Direction int

const (
	Stop Direction = iota
	Up
	Down
	Left
	Right
	UpLeft
	UpRight
	DownLeft
	DownRight
)

var directionNames = [...]string{
	Stop:      "Stop",
	Up:        "Up",
	Down:      "Down",
	Left:      "Left",
	Right:     "Right",
	UpLeft:    "UpLeft",
	UpRight:   "UpRight",
	DownLeft:  "DownLeft",
	DownRight: "DownRight",
}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// MarshalText encodes the direction by name
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a direction name
func (d *Direction) UnmarshalText(text []byte) error {
	for i, name := range directionNames {
		if name == string(text) {
			*d = Direction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown direction %q", text)
}

// Command is a high-level camera command understood by every Transport
type Command interface {
	command()
}

// PanTilt drives pan and tilt together.
// PanSpeed is 0..MaxPanSpeed, TiltSpeed is 0..MaxTiltSpeed; a zero speed means
// that axis is stopped.
type PanTilt struct {
	Direction Direction
	PanSpeed  uint8
	TiltSpeed uint8
}

// ZoomDirect moves the lens to an absolute zoom position (0 = full wide)
type ZoomDirect struct {
	Position uint16
}

func (PanTilt) command()    {}
func (ZoomDirect) command() {}

func (c PanTilt) String() string {
	return fmt.Sprintf("%s pan=%d tilt=%d", c.Direction, c.PanSpeed, c.TiltSpeed)
}

func (c ZoomDirect) String() string {
	return fmt.Sprintf("zoom=%d", c.Position)
}

// Transport delivers commands to a single camera connection
type Transport interface {
	// Send blocks until the command has been written (and, for
	// acknowledgment-based transports, acknowledged) or has failed
	Send(ctx context.Context, cmd Command) error

	// Close closes the connection
	Close() error
}

// Dialer opens a Transport to a camera endpoint ("host:port" or base URL)
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, endpoint string) (Transport, error)

// Dial calls f(ctx, endpoint)
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Transport, error) {
	return f(ctx, endpoint)
}
