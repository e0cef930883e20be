package server

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v3"

	"ptz-bridge/internal/joystick"
	"ptz-bridge/internal/preview"
	"ptz-bridge/internal/protocol"
)

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, "Failed to parse message")
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, "Invalid ping payload")
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeJoystick:
		var payload protocol.JoystickPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, "Invalid joystick payload")
			return
		}
		c.handleJoystick(payload)

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, "Invalid answer payload")
			return
		}
		session := c.previewSession()
		if session == nil {
			c.sendError(protocol.ErrPreviewDisabled, "No preview session")
			return
		}
		if err := session.SetAnswer(payload.SDP); err != nil {
			c.logger.Warnw("Failed to set answer", "error", err)
			c.sendError(protocol.ErrPreview, err.Error())
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, "Invalid ICE candidate payload")
			return
		}
		session := c.previewSession()
		if session == nil {
			c.sendError(protocol.ErrPreviewDisabled, "No preview session")
			return
		}
		err := session.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     payload.Candidate,
			SDPMid:        payload.SDPMid,
			SDPMLineIndex: payload.SDPMLineIndex,
		})
		if err != nil {
			c.logger.Warnw("Failed to add ICE candidate", "error", err)
		}

	default:
		c.logger.Debugw("Unknown message type", "type", msg.Type)
		c.sendError(protocol.ErrUnknownType, "Unknown message type: "+msg.Type)
	}
}

// handleJoystick publishes browser axes as the controller state
func (c *Client) handleJoystick(p protocol.JoystickPayload) {
	if !c.server.cfg.WebInput {
		c.sendError(protocol.ErrInputDisabled, "Web joystick input is disabled")
		return
	}

	c.mu.Lock()
	c.steering = true
	c.mu.Unlock()

	c.server.input.Publish(joystick.State{X: p.X, Y: p.Y, Z: p.Z})
}

func (c *Client) previewSession() *preview.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
