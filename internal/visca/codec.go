package visca

import (
	"fmt"

	"ptz-bridge/internal/ptz"
)

// Pan/tilt drive direction bytes (XX YY)
var driveDirections = map[ptz.Direction][2]byte{
	ptz.Up:        {0x03, 0x01},
	ptz.Down:      {0x03, 0x02},
	ptz.Left:      {0x01, 0x03},
	ptz.Right:     {0x02, 0x03},
	ptz.UpLeft:    {0x01, 0x01},
	ptz.UpRight:   {0x02, 0x01},
	ptz.DownLeft:  {0x01, 0x02},
	ptz.DownRight: {0x02, 0x02},
	ptz.Stop:      {0x03, 0x03},
}

// Encode returns the VISCA payload for cmd, without address byte and terminator
func Encode(cmd ptz.Command) ([]byte, error) {
	switch cmd := cmd.(type) {
	case ptz.PanTilt:
		return encodePanTilt(cmd)
	case ptz.ZoomDirect:
		return encodeZoomDirect(cmd), nil
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

// Pan-Tilt Drive: 01 06 01 VV WW XX YY
// VV = pan speed (01-18h), WW = tilt speed (01-14h)
func encodePanTilt(cmd ptz.PanTilt) ([]byte, error) {
	dir, ok := driveDirections[cmd.Direction]
	if !ok {
		return nil, fmt.Errorf("unknown pan/tilt direction %d", cmd.Direction)
	}

	// A stopped axis still needs a valid speed byte
	panSpeed := byte(clampInt(int(cmd.PanSpeed), 1, ptz.MaxPanSpeed))
	tiltSpeed := byte(clampInt(int(cmd.TiltSpeed), 1, ptz.MaxTiltSpeed))

	return []byte{0x01, 0x06, 0x01, panSpeed, tiltSpeed, dir[0], dir[1]}, nil
}

// CAM_Zoom Direct: 01 04 47 0p 0q 0r 0s
func encodeZoomDirect(cmd ptz.ZoomDirect) []byte {
	pos := cmd.Position
	return []byte{
		0x01, 0x04, 0x47,
		byte(pos>>12) & 0x0F,
		byte(pos>>8) & 0x0F,
		byte(pos>>4) & 0x0F,
		byte(pos) & 0x0F,
	}
}

// ReplyKind classifies a camera reply
type ReplyKind int

const (
	ReplyAck ReplyKind = iota
	ReplyCompletion
	ReplyError
)

// Reply is a decoded VISCA reply (y0 4z FF, y0 5z FF, y0 6z ee FF)
type Reply struct {
	Kind   ReplyKind
	Socket byte
	Code   byte // error code, ReplyError only
}

// ParseReply decodes a raw VISCA reply message
func ParseReply(msg []byte) (Reply, error) {
	if len(msg) < 3 || msg[len(msg)-1] != 0xFF || msg[0]&0xF0 != 0x90 {
		return Reply{}, fmt.Errorf("malformed VISCA reply: % X", msg)
	}

	socket := msg[1] & 0x0F
	switch msg[1] & 0xF0 {
	case 0x40:
		return Reply{Kind: ReplyAck, Socket: socket}, nil
	case 0x50:
		return Reply{Kind: ReplyCompletion, Socket: socket}, nil
	case 0x60:
		if len(msg) < 4 {
			return Reply{}, fmt.Errorf("malformed VISCA error reply: % X", msg)
		}
		return Reply{Kind: ReplyError, Socket: socket, Code: msg[2]}, nil
	default:
		return Reply{}, fmt.Errorf("unexpected VISCA reply: % X", msg)
	}
}

// ErrorText describes the error code of an error reply
func (r Reply) ErrorText() string {
	switch r.Code {
	case 0x01:
		return "message length error"
	case 0x02:
		return "syntax error"
	case 0x03:
		return "command buffer full"
	case 0x04:
		return "command canceled"
	case 0x05:
		return "no socket"
	case 0x41:
		return "command not executable"
	default:
		return fmt.Sprintf("error code %02X", r.Code)
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
