package gamepad

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	hid "github.com/0xcafed00d/joystick"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ptz-bridge/internal/joystick"
)

type fakeDevice struct {
	mu     sync.Mutex
	name   string
	axes   []int
	err    error
	closed bool
}

func (d *fakeDevice) AxisCount() int   { return len(d.axes) }
func (d *fakeDevice) ButtonCount() int { return 0 }
func (d *fakeDevice) Name() string     { return d.name }

func (d *fakeDevice) Read() (hid.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return hid.State{}, d.err
	}
	return hid.State{AxisData: append([]int(nil), d.axes...)}, nil
}

func (d *fakeDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *fakeDevice) set(axes ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.axes = axes
}

func (d *fakeDevice) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// fakeBus serves devices by id; nil entries are missing ids
type fakeBus struct {
	mu      sync.Mutex
	devices []*fakeDevice
	opens   int
}

func (b *fakeBus) open(id int) (hid.Joystick, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if id >= len(b.devices) || b.devices[id] == nil {
		return nil, errors.New("no such device")
	}
	return b.devices[id], nil
}

func (b *fakeBus) plug(id int, d *fakeDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.devices) <= id {
		b.devices = append(b.devices, nil)
	}
	b.devices[id] = d
}

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.MaxDevices = 4
	cfg.PollInterval = time.Millisecond
	cfg.RescanInterval = 5 * time.Millisecond
	return cfg
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func waitState(t *testing.T, r *joystick.Receiver, want joystick.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		got, err := r.Wait(ctx)
		return err == nil && got == want
	}, time.Second, time.Millisecond)
}

func TestAxisValue(t *testing.T) {
	axes := []int{32767, -32767, 0, -32768, 16384}
	assert.Equal(t, 1.0, axisValue(axes, 0))
	assert.Equal(t, -1.0, axisValue(axes, 1))
	assert.Equal(t, 0.0, axisValue(axes, 2))
	assert.Equal(t, -1.0, axisValue(axes, 3))
	assert.InDelta(t, 0.5, axisValue(axes, 4), 0.001)
	assert.Equal(t, 0.0, axisValue(axes, 9))
	assert.Equal(t, 0.0, axisValue(axes, -1))
}

func TestSelectsControllerByName(t *testing.T) {
	bus := &fakeBus{}
	other := &fakeDevice{name: "Keyboard Consumer Control", axes: []int{32767, 0, 0}}
	pad := &fakeDevice{name: "Logitech Extreme 3D Pro", axes: []int{0, 0, 0}}
	bus.plug(0, other)
	bus.plug(2, pad)

	cell := joystick.NewCell()
	r := cell.Subscribe()
	w := New(testConfig("Extreme 3D"), cell, zaptest.NewLogger(t).Sugar(), WithOpener(bus.open))
	startWatcher(t, w)

	pad.set(32767, -32767, 0)
	waitState(t, r, joystick.State{X: 1, Y: -1, Z: 0})
	assert.True(t, other.isClosed())
	assert.False(t, pad.isClosed())
}

func TestAxisMapping(t *testing.T) {
	bus := &fakeBus{}
	pad := &fakeDevice{name: "pad", axes: []int{0, 0, 0, 0}}
	bus.plug(0, pad)

	cfg := testConfig("pad")
	cfg.AxisX, cfg.AxisY, cfg.AxisZ = 3, 2, 0

	cell := joystick.NewCell()
	r := cell.Subscribe()
	startWatcher(t, New(cfg, cell, zaptest.NewLogger(t).Sugar(), WithOpener(bus.open)))

	pad.set(-32767, 0, 32767, 0)
	waitState(t, r, joystick.State{X: 0, Y: 1, Z: -1})
}

func TestPublishesOnlyOnChange(t *testing.T) {
	bus := &fakeBus{}
	pad := &fakeDevice{name: "pad", axes: []int{0, 0, 0}}
	bus.plug(0, pad)

	cell := joystick.NewCell()
	r := cell.Subscribe()
	startWatcher(t, New(testConfig("pad"), cell, zaptest.NewLogger(t).Sugar(), WithOpener(bus.open)))

	// Centered matches the initial cell value, so nothing is published
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pad.set(0, 0, 32767)
	waitState(t, r, joystick.State{Z: 1})
}

func TestRediscoversAfterReadError(t *testing.T) {
	bus := &fakeBus{}
	pad := &fakeDevice{name: "pad", axes: []int{32767, 0, 16384}}
	bus.plug(0, pad)

	cell := joystick.NewCell()
	r := cell.Subscribe()
	startWatcher(t, New(testConfig("pad"), cell, zaptest.NewLogger(t).Sugar(), WithOpener(bus.open)))

	require.Eventually(t, func() bool { return cell.Current().X == 1 }, time.Second, time.Millisecond)
	z := cell.Current().Z

	pad.fail(errors.New("read /dev/input/js0: no such device"))

	// Pan/tilt is centered, zoom is held
	waitState(t, r, joystick.State{Z: z})
	require.Eventually(t, pad.isClosed, time.Second, time.Millisecond)

	replacement := &fakeDevice{name: "pad", axes: []int{0, -32767, 16384}}
	bus.plug(0, replacement)
	waitState(t, r, joystick.State{Y: -1, Z: z})
}

func TestKeepsScanningUntilPluggedIn(t *testing.T) {
	bus := &fakeBus{}
	cell := joystick.NewCell()
	r := cell.Subscribe()
	startWatcher(t, New(testConfig("pad"), cell, zaptest.NewLogger(t).Sugar(), WithOpener(bus.open)))

	time.Sleep(20 * time.Millisecond)
	bus.plug(1, &fakeDevice{name: "gamepad", axes: []int{-32767, 0, 0}})
	waitState(t, r, joystick.State{X: -1})
}

func TestLatestWriterWins(t *testing.T) {
	bus := &fakeBus{}
	pad := &fakeDevice{name: "pad", axes: []int{0, 0, 0}}
	bus.plug(0, pad)

	cell := joystick.NewCell()
	r := cell.Subscribe()
	startWatcher(t, New(testConfig("pad"), cell, zaptest.NewLogger(t).Sugar(), WithOpener(bus.open)))

	pad.set(0, 0, 32767)
	waitState(t, r, joystick.State{Z: 1})

	// Another writer takes over while the stick rests
	cell.Publish(joystick.State{X: 0.5})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, joystick.State{X: 0.5}, cell.Current())

	// Moving the stick reclaims the cell
	pad.set(32767, 0, 32767)
	waitState(t, r, joystick.State{X: 1, Z: 1})
}
