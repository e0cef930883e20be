package bridge

import "ptz-bridge/internal/ptz"

// Status is a snapshot of what the bridge last commanded and of its
// connection, published for observers such as the web console
type Status struct {
	Connected bool          `json:"connected"`
	Endpoint  string        `json:"endpoint"`
	Direction ptz.Direction `json:"direction"`
	PanSpeed  uint8         `json:"pan_speed"`
	TiltSpeed uint8         `json:"tilt_speed"`
	Zoom      uint16        `json:"zoom"`
	ZoomSet   bool          `json:"zoom_set"`

	CommandsSent    uint64 `json:"commands_sent"`
	SendFailures    uint64 `json:"send_failures"`
	ConnectAttempts uint64 `json:"connect_attempts"`
	LastError       string `json:"last_error,omitempty"`
}
