package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ptz-bridge/internal/bridge"
	"ptz-bridge/internal/joystick"
	"ptz-bridge/internal/protocol"
	"ptz-bridge/internal/ptz"
	"ptz-bridge/internal/watch"
)

type harness struct {
	srv    *Server
	http   *httptest.Server
	status *watch.Cell[bridge.Status]
	input  *joystick.Cell
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)

	h := &harness{
		status: watch.NewCell(bridge.Status{Endpoint: "127.0.0.1:1259", Direction: ptz.Stop}),
		input:  joystick.NewCell(),
		logs:   logs,
	}
	static := fstest.MapFS{"index.html": {Data: []byte("<h1>ptz-bridge</h1>")}}
	h.srv = New(cfg, static, h.status, h.input, zap.New(core).Sugar())
	h.http = httptest.NewServer(h.srv.Handler())
	t.Cleanup(func() {
		h.srv.Stop()
		h.http.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

// expect reads until a message of msgType arrives
func expect(t *testing.T, conn *websocket.Conn, msgType string) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return &msg
		}
	}
}

func expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	var payload protocol.ErrorPayload
	require.NoError(t, expect(t, conn, protocol.TypeError).ParsePayload(&payload))
	assert.Equal(t, code, payload.Code)
}

func TestStaticFiles(t *testing.T) {
	h := newHarness(t, Config{})

	resp, err := http.Get(h.http.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ptz-bridge")
}

func TestInitialStatus(t *testing.T) {
	h := newHarness(t, Config{WebInput: true})
	conn := h.dial(t)

	var status protocol.StatusPayload
	require.NoError(t, expect(t, conn, protocol.TypeStatus).ParsePayload(&status))
	assert.NotEmpty(t, status.ClientID)
	assert.Equal(t, "127.0.0.1:1259", status.Bridge.Endpoint)
	assert.False(t, status.Bridge.Connected)
	assert.False(t, status.Preview)
	assert.True(t, status.WebInput)
}

func TestClientsGetDistinctIDs(t *testing.T) {
	h := newHarness(t, Config{})

	var a, b protocol.StatusPayload
	require.NoError(t, expect(t, h.dial(t), protocol.TypeStatus).ParsePayload(&a))
	require.NoError(t, expect(t, h.dial(t), protocol.TypeStatus).ParsePayload(&b))
	assert.NotEqual(t, a.ClientID, b.ClientID)
}

func TestStatusPushedOnChange(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	expect(t, conn, protocol.TypeStatus)

	h.status.Update(func(s *bridge.Status) {
		s.Connected = true
		s.Direction = ptz.UpLeft
		s.PanSpeed = 7
	})

	var status protocol.StatusPayload
	require.NoError(t, expect(t, conn, protocol.TypeStatus).ParsePayload(&status))
	assert.True(t, status.Bridge.Connected)
	assert.Equal(t, ptz.UpLeft, status.Bridge.Direction)
	assert.Equal(t, uint8(7), status.Bridge.PanSpeed)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 1234})

	var pong protocol.PongPayload
	require.NoError(t, expect(t, conn, protocol.TypePong).ParsePayload(&pong))
	assert.Equal(t, int64(1234), pong.ClientTimestamp)
	assert.NotZero(t, pong.ServerTimestamp)
}

func TestJoystickInput(t *testing.T) {
	h := newHarness(t, Config{WebInput: true})
	conn := h.dial(t)
	rx := h.input.Subscribe()

	send(t, conn, protocol.TypeJoystick, protocol.JoystickPayload{X: 0.5, Y: -1, Z: 0.25})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := rx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, joystick.State{X: 0.5, Y: -1, Z: 0.25}, state)
}

func TestJoystickInputDisabled(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	send(t, conn, protocol.TypeJoystick, protocol.JoystickPayload{X: 1})
	expectError(t, conn, protocol.ErrInputDisabled)
	assert.Equal(t, joystick.State{}, h.input.Current())
}

func TestDisconnectCentersPanTilt(t *testing.T) {
	h := newHarness(t, Config{WebInput: true})
	conn := h.dial(t)

	send(t, conn, protocol.TypeJoystick, protocol.JoystickPayload{X: 1, Y: 1, Z: 0.5})
	require.Eventually(t, func() bool { return h.input.Current().X == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return h.input.Current() == joystick.State{Z: 0.5}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestIdleClientDisconnectLeavesInput(t *testing.T) {
	h := newHarness(t, Config{WebInput: true})
	conn := h.dial(t)
	expect(t, conn, protocol.TypeStatus)

	h.input.Publish(joystick.State{X: 1})
	conn.Close()

	require.Eventually(t, func() bool {
		return h.logs.FilterMessage("Client disconnected").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, joystick.State{X: 1}, h.input.Current())
}

func TestInvalidMessages(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	expectError(t, conn, protocol.ErrInvalidMessage)

	send(t, conn, "ptz_preset", map[string]int{"preset_number": 1})
	expectError(t, conn, protocol.ErrUnknownType)

	send(t, conn, protocol.TypeAnswer, protocol.SDPPayload{SDP: "v=0"})
	expectError(t, conn, protocol.ErrPreviewDisabled)
}

func TestServeStopsOnCancel(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	srv := New(Config{}, fstest.MapFS{}, watch.NewCell(bridge.Status{}), joystick.NewCell(), zap.New(core).Sugar())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()
	expect(t, conn, protocol.TypeStatus)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second * 6):
		t.Fatal("Serve did not stop")
	}

	// The client is told to go away
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
			break
		}
	}
}

func TestStatusPayloadJSON(t *testing.T) {
	data, err := json.Marshal(protocol.StatusPayload{
		ClientID: "abc",
		Bridge:   bridge.Status{Direction: ptz.DownRight},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"direction":"DownRight"`)
}
