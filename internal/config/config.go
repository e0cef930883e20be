// Package config holds the daemon configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Camera control protocols
const (
	ProtocolUDP       = "udp"
	ProtocolUDPIP     = "udp-ip"
	ProtocolTCP       = "tcp"
	ProtocolPanasonic = "panasonic"
)

// Default ports per protocol
const (
	DefaultVISCAPort     = 1259
	DefaultPanasonicPort = 80
)

// ControllerConfig selects and maps the game controller.
type ControllerConfig struct {
	Name           string `yaml:"name"`             // substring of the device name
	AxisX          int    `yaml:"axis_x"`           // device axis driving pan
	AxisY          int    `yaml:"axis_y"`           // device axis driving tilt
	AxisZ          int    `yaml:"axis_z"`           // device axis driving zoom
	PollIntervalMs int    `yaml:"poll_interval_ms"` // device read period (ms)
}

// CameraConfig describes how to reach the camera.
type CameraConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`     // 0 = protocol default
	Protocol       string `yaml:"protocol"` // udp, udp-ip, tcp or panasonic
	Address        int    `yaml:"address"`  // VISCA camera address 1-7
	WaitForReply   bool   `yaml:"wait_for_reply"`
	ReplyTimeoutMs int    `yaml:"reply_timeout_ms"` // 0 = wait forever
}

// BridgeConfig tunes the axis mapping and pacing.
type BridgeConfig struct {
	PanTiltThreshold    float64 `yaml:"pan_tilt_threshold"` // dead zone, 0 <= t < 1
	PanMaxSpeed         int     `yaml:"pan_max_speed"`      // clamped to 24
	TiltMaxSpeed        int     `yaml:"tilt_max_speed"`     // clamped to 20
	InvertZAxis         bool    `yaml:"invert_z_axis"`
	MaxZoom             int     `yaml:"max_zoom"`
	MinUpdateIntervalMs int     `yaml:"min_update_interval_ms"`
	ReconnectIntervalMs int     `yaml:"reconnect_interval_ms"`
}

// ConsoleConfig enables the optional web console.
type ConsoleConfig struct {
	Listen   string `yaml:"listen"`    // HTTP listen address, empty = disabled
	RTSPURL  string `yaml:"rtsp_url"`  // camera stream for the preview, empty = disabled
	WebInput bool   `yaml:"web_input"` // accept joystick input from browsers
}

// Config aggregates all application configuration.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Camera     CameraConfig     `yaml:"camera"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Console    ConsoleConfig    `yaml:"console"`
	LogLevel   string           `yaml:"log_level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			AxisX:          0,
			AxisY:          1,
			AxisZ:          2,
			PollIntervalMs: 10,
		},
		Camera: CameraConfig{
			Protocol: ProtocolUDP,
			Address:  1,
		},
		Bridge: BridgeConfig{
			PanTiltThreshold:    0.25,
			PanMaxSpeed:         16,
			TiltMaxSpeed:        16,
			InvertZAxis:         true,
			MaxZoom:             16500,
			MinUpdateIntervalMs: 50,
			ReconnectIntervalMs: 5000,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	return cfg, nil
}

// Validate fills protocol dependent defaults and reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Camera.Host == "" {
		return fmt.Errorf("camera.host is required")
	}
	switch c.Camera.Protocol {
	case ProtocolUDP, ProtocolUDPIP, ProtocolTCP:
		if c.Camera.Port == 0 {
			c.Camera.Port = DefaultVISCAPort
		}
	case ProtocolPanasonic:
		if c.Camera.Port == 0 {
			c.Camera.Port = DefaultPanasonicPort
		}
	default:
		return fmt.Errorf("camera.protocol must be one of udp, udp-ip, tcp, panasonic, got %q", c.Camera.Protocol)
	}
	if c.Camera.Port < 1 || c.Camera.Port > 65535 {
		return fmt.Errorf("camera.port must be between 1 and 65535, got %d", c.Camera.Port)
	}
	if c.Camera.Address < 1 || c.Camera.Address > 7 {
		return fmt.Errorf("camera.address must be between 1 and 7, got %d", c.Camera.Address)
	}
	if c.Camera.ReplyTimeoutMs < 0 {
		return fmt.Errorf("camera.reply_timeout_ms must be >= 0, got %d", c.Camera.ReplyTimeoutMs)
	}

	if c.Controller.Name == "" && !c.Console.WebInput {
		return fmt.Errorf("controller.name is required unless console.web_input is enabled")
	}
	for name, axis := range map[string]int{"axis_x": c.Controller.AxisX, "axis_y": c.Controller.AxisY, "axis_z": c.Controller.AxisZ} {
		if axis < 0 {
			return fmt.Errorf("controller.%s must be >= 0, got %d", name, axis)
		}
	}
	if c.Controller.PollIntervalMs <= 0 {
		return fmt.Errorf("controller.poll_interval_ms must be > 0, got %d", c.Controller.PollIntervalMs)
	}

	b := c.Bridge
	if b.PanTiltThreshold < 0 || b.PanTiltThreshold >= 1 {
		return fmt.Errorf("bridge.pan_tilt_threshold must be in [0, 1), got %.2f", b.PanTiltThreshold)
	}
	if b.PanMaxSpeed < 0 || b.PanMaxSpeed > 255 {
		return fmt.Errorf("bridge.pan_max_speed must be between 0 and 255, got %d", b.PanMaxSpeed)
	}
	if b.TiltMaxSpeed < 0 || b.TiltMaxSpeed > 255 {
		return fmt.Errorf("bridge.tilt_max_speed must be between 0 and 255, got %d", b.TiltMaxSpeed)
	}
	if b.MaxZoom < 1 || b.MaxZoom > 65535 {
		return fmt.Errorf("bridge.max_zoom must be between 1 and 65535, got %d", b.MaxZoom)
	}
	if b.MinUpdateIntervalMs <= 0 {
		return fmt.Errorf("bridge.min_update_interval_ms must be > 0, got %d", b.MinUpdateIntervalMs)
	}
	if b.ReconnectIntervalMs <= 0 {
		return fmt.Errorf("bridge.reconnect_interval_ms must be > 0, got %d", b.ReconnectIntervalMs)
	}

	if c.Console.WebInput && c.Console.Listen == "" {
		return fmt.Errorf("console.web_input needs console.listen")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Endpoint returns the camera host:port.
func (c *Config) Endpoint() string {
	return net.JoinHostPort(c.Camera.Host, strconv.Itoa(c.Camera.Port))
}

// PollInterval returns the controller read period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Controller.PollIntervalMs) * time.Millisecond
}

// ReplyTimeout returns how long to wait for a camera reply; zero waits forever.
func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.Camera.ReplyTimeoutMs) * time.Millisecond
}

// MinUpdateInterval returns the pause after a command is sent.
func (c *Config) MinUpdateInterval() time.Duration {
	return time.Duration(c.Bridge.MinUpdateIntervalMs) * time.Millisecond
}

// ReconnectInterval returns the wait between connection attempts.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Bridge.ReconnectIntervalMs) * time.Millisecond
}
