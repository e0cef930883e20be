// Package gamepad polls a game controller and publishes its axes.
//
// The output cell may have other writers, such as the web console. The latest
// writer wins: the watcher publishes only when the controller itself changes,
// so a stick left at rest does not take control back until it moves.
package gamepad

import (
	"context"
	"fmt"
	"strings"
	"time"

	hid "github.com/0xcafed00d/joystick"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"ptz-bridge/internal/joystick"
)

const axisMax = 32767

// Config for a Watcher
type Config struct {
	// NameMatch selects the first controller whose name contains it
	NameMatch string

	// MaxDevices is how many device ids are probed during discovery
	MaxDevices int

	// Device axis indexes feeding X, Y and Z
	AxisX, AxisY, AxisZ int

	PollInterval   time.Duration
	RescanInterval time.Duration
}

// DefaultConfig returns the left stick on X/Y and the third axis on Z
func DefaultConfig(nameMatch string) Config {
	return Config{
		NameMatch:      nameMatch,
		MaxDevices:     8,
		AxisX:          0,
		AxisY:          1,
		AxisZ:          2,
		PollInterval:   10 * time.Millisecond,
		RescanInterval: 2 * time.Second,
	}
}

// Opener opens the device with the given id
type Opener func(id int) (hid.Joystick, error)

// Option configures a Watcher
type Option func(*Watcher)

// WithOpener replaces the system joystick opener
func WithOpener(open Opener) Option {
	return func(w *Watcher) {
		w.open = open
	}
}

// WithClock replaces the wall clock used for polling and rescans
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// Watcher owns the selected controller and publishes its state into a cell
// whenever an axis changes
type Watcher struct {
	cfg    Config
	out    *joystick.Cell
	open   Opener
	clock  clock.Clock
	logger *zap.SugaredLogger

	device hid.Joystick
	last   joystick.State
}

// New creates a watcher publishing into out
func New(cfg Config, out *joystick.Cell, logger *zap.SugaredLogger, opts ...Option) *Watcher {
	def := DefaultConfig(cfg.NameMatch)
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = def.MaxDevices
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = def.RescanInterval
	}

	w := &Watcher{
		cfg:    cfg,
		out:    out,
		open:   hid.Open,
		clock:  clock.New(),
		logger: logger,
		last:   out.Current(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run discovers the controller and polls it until ctx is done. A controller
// that fails to read is closed and discovery starts over.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.release()

	for {
		if w.device == nil {
			if err := w.selectDevice(); err != nil {
				w.logger.Debugw("No controller selected", "error", err)
				if err := w.sleep(ctx, w.cfg.RescanInterval); err != nil {
					return err
				}
				continue
			}
		}

		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warnw("Controller read failed, rediscovering", "error", err)
			w.release()
			w.center()
		}
	}
}

// selectDevice opens every device id and keeps the first whose name matches
func (w *Watcher) selectDevice() error {
	w.logger.Infow("Discovering game controllers...")

	for id := 0; id < w.cfg.MaxDevices; id++ {
		dev, err := w.open(id)
		if err != nil {
			continue
		}

		name := dev.Name()
		w.logger.Infow("Found controller", "id", id, "name", name, "axes", dev.AxisCount())

		if w.device == nil && strings.Contains(name, w.cfg.NameMatch) {
			w.device = dev
			w.logger.Infow("Selected controller", "id", id, "name", name)
			continue
		}
		dev.Close()
	}

	if w.device == nil {
		return fmt.Errorf("no controller matching %q", w.cfg.NameMatch)
	}
	return nil
}

func (w *Watcher) poll(ctx context.Context) error {
	ticker := w.clock.Ticker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		raw, err := w.device.Read()
		if err != nil {
			return err
		}
		w.publish(w.convert(raw))
	}
}

func (w *Watcher) convert(raw hid.State) joystick.State {
	return joystick.State{
		X: axisValue(raw.AxisData, w.cfg.AxisX),
		Y: axisValue(raw.AxisData, w.cfg.AxisY),
		Z: axisValue(raw.AxisData, w.cfg.AxisZ),
	}
}

func (w *Watcher) publish(s joystick.State) {
	if s == w.last {
		return
	}
	w.last = s
	w.out.Publish(s)
}

// center stops pan/tilt when the controller goes away; zoom stays where it was
func (w *Watcher) center() {
	w.publish(joystick.State{Z: w.last.Z})
}

func (w *Watcher) release() {
	if w.device != nil {
		w.device.Close()
		w.device = nil
	}
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) error {
	timer := w.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// axisValue normalizes a raw axis reading to [-1, 1]; missing axes read 0
func axisValue(axes []int, i int) float64 {
	if i < 0 || i >= len(axes) {
		return 0
	}
	v := float64(axes[i]) / axisMax
	return max(-1, min(1, v))
}
