package panasonic

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ptz-bridge/internal/ptz"
)

// Absolute zoom range of the #AXZ command
const (
	zoomWide = 0x555
	zoomTele = 0xFFF
)

// Config for Panasonic connections
type Config struct {
	MaxZoom uint16 // bridge zoom position that maps to full telephoto
	Timeout time.Duration
}

// Dialer creates Panasonic controllers. Connections are stateless HTTP requests,
// so dialing only prepares the client.
type Dialer struct {
	cfg    Config
	client *http.Client
}

// NewDialer returns a Dialer
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.MaxZoom == 0 {
		return nil, fmt.Errorf("max zoom is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Dialer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Dial returns a controller for the camera at endpoint (host:port)
func (d *Dialer) Dial(ctx context.Context, endpoint string) (ptz.Transport, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("camera address is required")
	}
	return &Controller{
		baseURL: fmt.Sprintf("http://%s/cgi-bin/aw_ptz", endpoint),
		client:  d.client,
		maxZoom: d.cfg.MaxZoom,
	}, nil
}

// Controller manages HTTP CGI communication with a Panasonic PTZ camera
type Controller struct {
	baseURL string
	client  *http.Client
	maxZoom uint16
	mu      sync.Mutex
	closed  bool
}

// Close marks the controller closed
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ptz.ErrClosed
	}
	c.closed = true
	return nil
}

// Send converts cmd into a CGI command and sends it
func (c *Controller) Send(ctx context.Context, cmd ptz.Command) error {
	var cgi string
	switch cmd := cmd.(type) {
	case ptz.PanTilt:
		cgi = panTiltCommand(cmd)
	case ptz.ZoomDirect:
		cgi = zoomCommand(cmd, c.maxZoom)
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
	return c.sendCommand(ctx, cgi)
}

// panTiltCommand builds #PTS<pan><tilt>, each 01-99 with 50 = stop.
// Pan above 50 is right, tilt above 50 is up.
func panTiltCommand(cmd ptz.PanTilt) string {
	pan, tilt := 0, 0
	switch cmd.Direction {
	case ptz.Right, ptz.UpRight, ptz.DownRight:
		pan = 1
	case ptz.Left, ptz.UpLeft, ptz.DownLeft:
		pan = -1
	}
	switch cmd.Direction {
	case ptz.Up, ptz.UpLeft, ptz.UpRight:
		tilt = 1
	case ptz.Down, ptz.DownLeft, ptz.DownRight:
		tilt = -1
	}

	return fmt.Sprintf("#PTS%02d%02d",
		speedToValue(pan, cmd.PanSpeed, ptz.MaxPanSpeed),
		speedToValue(tilt, cmd.TiltSpeed, ptz.MaxTiltSpeed))
}

// speedToValue scales a speed onto Panasonic's 01-49 / 51-99 halves
func speedToValue(sign int, speed uint8, maxSpeed int) int {
	if sign == 0 || speed == 0 {
		return 50
	}
	step := int(math.Round(float64(min(int(speed), maxSpeed)) * 49 / float64(maxSpeed)))
	step = max(step, 1)
	return 50 + sign*step
}

// zoomCommand builds #AXZ<hex3> with the position scaled onto 555h-FFFh
func zoomCommand(cmd ptz.ZoomDirect, maxZoom uint16) string {
	pos := min(cmd.Position, maxZoom)
	value := zoomWide + int(math.Round(float64(pos)*float64(zoomTele-zoomWide)/float64(maxZoom)))
	return fmt.Sprintf("#AXZ%03X", value)
}

// sendCommand sends a command to the camera via HTTP CGI
func (c *Controller) sendCommand(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ptz.ErrClosed
	}

	query := url.Values{"cmd": {cmd}, "res": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned %s for %s", resp.Status, cmd)
	}
	// Errors come back as "E1"/"E2"/"E3" or "ER1:..." style bodies
	if reply := strings.TrimSpace(string(body)); strings.HasPrefix(reply, "E") {
		return fmt.Errorf("camera rejected %s: %s", cmd, reply)
	}
	return nil
}
