// Package bridge turns joystick states into PTZ camera commands.
//
// A Bridge waits for new joystick states, derives the pan/tilt and zoom intent
// for each one and sends a command only when that intent differs from the last
// one it derived. After sending it pauses for a minimum interval, which bounds
// the command rate no matter how fast the input source publishes. Transport
// failures drop the connection and the bridge reconnects on a fixed interval.
package bridge

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"ptz-bridge/internal/joystick"
	"ptz-bridge/internal/ptz"
	"ptz-bridge/internal/watch"
)

// Defaults used when the corresponding Config field is zero
const (
	DefaultThreshold         = 0.25
	DefaultMinUpdateInterval = 50 * time.Millisecond
	DefaultReconnectInterval = 5 * time.Second
)

// Config for a Bridge
type Config struct {
	// Endpoint is the camera address as host:port. It is resolved once in New.
	Endpoint string

	// Threshold is the pan/tilt dead zone, in [0, 1)
	Threshold float64

	// PanMaxSpeed and TiltMaxSpeed are capped at ptz.MaxPanSpeed and ptz.MaxTiltSpeed
	PanMaxSpeed  uint8
	TiltMaxSpeed uint8

	// InvertZ negates the z axis before it is mapped onto a zoom position
	InvertZ bool

	MaxZoom           uint16
	MinUpdateInterval time.Duration
	ReconnectInterval time.Duration
}

// Option configures optional Bridge collaborators
type Option func(*Bridge)

// WithClock replaces the wall clock used for throttling and reconnect waits
func WithClock(c clock.Clock) Option {
	return func(b *Bridge) {
		b.clock = c
	}
}

// Bridge sends camera commands derived from joystick states
type Bridge struct {
	cfg    Config
	dialer ptz.Dialer
	input  *joystick.Receiver
	clock  clock.Clock
	logger *zap.SugaredLogger
	status *watch.Cell[Status]

	// Last derived intent. Only the Run goroutine touches these.
	direction ptz.Direction
	panSpeed  uint8
	tiltSpeed uint8
	zoom      uint16
	zoomSet   bool
}

// New creates a bridge. Configuration errors, including an endpoint that
// cannot be resolved, are returned here and nowhere else.
func New(cfg Config, dialer ptz.Dialer, input *joystick.Receiver, logger *zap.SugaredLogger, opts ...Option) (*Bridge, error) {
	if cfg.Threshold < 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("pan/tilt threshold must be in [0, 1), got %v", cfg.Threshold)
	}
	if cfg.MinUpdateInterval < 0 || cfg.ReconnectInterval < 0 {
		return nil, fmt.Errorf("intervals must not be negative")
	}

	endpoint, err := resolveEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	cfg.Endpoint = endpoint

	cfg.PanMaxSpeed = min(cfg.PanMaxSpeed, ptz.MaxPanSpeed)
	cfg.TiltMaxSpeed = min(cfg.TiltMaxSpeed, ptz.MaxTiltSpeed)
	if cfg.MaxZoom == 0 {
		cfg.MaxZoom = DefaultMaxZoom
	}
	if cfg.MinUpdateInterval == 0 {
		cfg.MinUpdateInterval = DefaultMinUpdateInterval
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}

	b := &Bridge{
		cfg:       cfg,
		dialer:    dialer,
		input:     input,
		clock:     clock.New(),
		logger:    logger,
		status:    watch.NewCell(Status{Endpoint: endpoint, Direction: ptz.Stop}),
		direction: ptz.Stop,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Endpoint returns the resolved camera address
func (b *Bridge) Endpoint() string {
	return b.cfg.Endpoint
}

// Status returns the cell the bridge publishes its status into
func (b *Bridge) Status() *watch.Cell[Status] {
	return b.status
}

// serve runs the change-detection loop on one connection until a send fails
// or ctx is done
func (b *Bridge) serve(ctx context.Context, t ptz.Transport) error {
	for {
		state, err := b.input.Wait(ctx)
		if err != nil {
			return err
		}

		sent, err := b.apply(ctx, t, state)
		if err != nil {
			return err
		}

		if sent {
			// Don't look at the next state until the interval has passed so
			// commands can't be sent to the camera too fast.
			if err := b.sleep(ctx, b.cfg.MinUpdateInterval); err != nil {
				return err
			}
		}
	}
}

// apply sends whatever commands state calls for and reports whether any were
// sent. A failed pan/tilt send skips the zoom step.
func (b *Bridge) apply(ctx context.Context, t ptz.Transport, state joystick.State) (bool, error) {
	sent := false

	if cmd, changed := b.handlePanTilt(state); changed {
		sent = true
		b.logger.Debugw("Pan/tilt changed", "direction", cmd.Direction, "pan", cmd.PanSpeed, "tilt", cmd.TiltSpeed)
		if err := b.send(ctx, t, cmd); err != nil {
			return sent, fmt.Errorf("send pan/tilt command: %w", err)
		}
	}

	if cmd, changed := b.handleZoom(state); changed {
		sent = true
		b.logger.Debugw("Zoom changed", "position", cmd.Position)
		if err := b.send(ctx, t, cmd); err != nil {
			return sent, fmt.Errorf("send zoom command: %w", err)
		}
	}

	return sent, nil
}

// handlePanTilt derives the pan/tilt intent for state and records it if it changed
func (b *Bridge) handlePanTilt(state joystick.State) (ptz.PanTilt, bool) {
	x := AxisSpeed(state.X, b.cfg.PanMaxSpeed, b.cfg.Threshold)
	y := AxisSpeed(state.Y, b.cfg.TiltMaxSpeed, b.cfg.Threshold)

	cmd := ptz.PanTilt{
		Direction: Classify(x, y),
		PanSpeed:  absSpeed(x),
		TiltSpeed: absSpeed(y),
	}

	if cmd.Direction == b.direction && cmd.PanSpeed == b.panSpeed && cmd.TiltSpeed == b.tiltSpeed {
		return cmd, false
	}

	b.direction = cmd.Direction
	b.panSpeed = cmd.PanSpeed
	b.tiltSpeed = cmd.TiltSpeed
	b.status.Update(func(s *Status) {
		s.Direction = cmd.Direction
		s.PanSpeed = cmd.PanSpeed
		s.TiltSpeed = cmd.TiltSpeed
	})
	return cmd, true
}

// handleZoom derives the zoom position for state and records it if it changed.
// The first derived position always counts as a change.
func (b *Bridge) handleZoom(state joystick.State) (ptz.ZoomDirect, bool) {
	z := state.Z
	if b.cfg.InvertZ {
		z = -z
	}
	cmd := ptz.ZoomDirect{Position: ZoomLevel(z, b.cfg.MaxZoom)}

	if b.zoomSet && cmd.Position == b.zoom {
		return cmd, false
	}

	b.zoom = cmd.Position
	b.zoomSet = true
	b.status.Update(func(s *Status) {
		s.Zoom = cmd.Position
		s.ZoomSet = true
	})
	return cmd, true
}

func (b *Bridge) send(ctx context.Context, t ptz.Transport, cmd ptz.Command) error {
	if err := t.Send(ctx, cmd); err != nil {
		b.status.Update(func(s *Status) {
			s.SendFailures++
			s.LastError = err.Error()
		})
		return err
	}
	b.status.Update(func(s *Status) { s.CommandsSent++ })
	return nil
}

func (b *Bridge) sleep(ctx context.Context, d time.Duration) error {
	timer := b.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func absSpeed(s int8) uint8 {
	if s < 0 {
		return uint8(-int16(s))
	}
	return uint8(s)
}

// resolveEndpoint turns host:port into ip:port
func resolveEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("camera endpoint is required")
	}
	addr, err := net.ResolveTCPAddr("tcp", endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid camera address %q: %w", endpoint, err)
	}
	if addr.IP == nil {
		return "", fmt.Errorf("invalid camera address %q: missing host", endpoint)
	}
	return addr.String(), nil
}
