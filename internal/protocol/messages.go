// Package protocol defines the web console's WebSocket messages.
package protocol

import (
	"encoding/json"

	"ptz-bridge/internal/bridge"
)

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeJoystick     = "joystick"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeError        = "error"
)

// Error codes
const (
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrUnknownType     = "UNKNOWN_TYPE"
	ErrInputDisabled   = "INPUT_DISABLED"
	ErrPreview         = "PREVIEW_ERROR"
	ErrPreviewDisabled = "PREVIEW_DISABLED"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload for status messages
type StatusPayload struct {
	ClientID string        `json:"client_id"`
	Bridge   bridge.Status `json:"bridge"`
	Preview  bool          `json:"preview"`   // camera stream is playing
	WebInput bool          `json:"web_input"` // joystick messages are accepted
}

// JoystickPayload carries virtual joystick axes in [-1, 1]
type JoystickPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
