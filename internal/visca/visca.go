package visca

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"ptz-bridge/internal/ptz"
)

// Transport protocols
const (
	ProtocolUDP   = "udp"    // raw VISCA datagrams, e.g. port 1259
	ProtocolUDPIP = "udp-ip" // VISCA over IP framing, e.g. port 52381
	ProtocolTCP   = "tcp"    // raw VISCA over a stream, e.g. port 5678
)

// ErrCommandFailed is returned when the camera answers a command with an error reply
var ErrCommandFailed = errors.New("camera rejected command")

// Config for VISCA connections
type Config struct {
	Protocol string // ProtocolUDP, ProtocolUDPIP or ProtocolTCP
	Address  int    // Camera address (1-7), default 1

	DialTimeout time.Duration

	// WaitForReply makes Send block until the camera acknowledges the command.
	// There is no deadline unless ReplyTimeout is set.
	WaitForReply bool
	ReplyTimeout time.Duration
}

// Dialer opens VISCA connections
type Dialer struct {
	cfg Config
}

// NewDialer validates cfg and returns a Dialer
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolUDP
	}
	switch cfg.Protocol {
	case ProtocolUDP, ProtocolUDPIP, ProtocolTCP:
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}

	if cfg.Address == 0 {
		cfg.Address = 1
	}
	if cfg.Address < 1 || cfg.Address > 7 {
		return nil, fmt.Errorf("camera address must be 1-7, got %d", cfg.Address)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	return &Dialer{cfg: cfg}, nil
}

// Dial connects to endpoint (host:port)
func (d *Dialer) Dial(ctx context.Context, endpoint string) (ptz.Transport, error) {
	network := "udp"
	if d.cfg.Protocol == ProtocolTCP {
		network = "tcp"
	}

	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, network, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to VISCA over %s: %w", d.cfg.Protocol, err)
	}

	return &Controller{
		conn:         conn,
		addr:         d.cfg.Address,
		protocol:     d.cfg.Protocol,
		waitReply:    d.cfg.WaitForReply,
		replyTimeout: d.cfg.ReplyTimeout,
		inflight:     make(map[byte]bool),
	}, nil
}

// Controller manages VISCA communication with a PTZ camera
type Controller struct {
	conn         net.Conn
	mu           sync.Mutex
	addr         int    // Camera address (1-7)
	seqNum       uint32 // Sequence number for VISCA over IP
	protocol     string
	waitReply    bool
	replyTimeout time.Duration
	pending      []byte        // unparsed reply bytes on stream connections
	inflight     map[byte]bool // sockets acked but not yet completed
	closed       bool
}

// Close closes the VISCA connection
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ptz.ErrClosed
	}
	c.closed = true
	return c.conn.Close()
}

// Send encodes cmd and writes it to the camera
func (c *Controller) Send(ctx context.Context, cmd ptz.Command) error {
	payload, err := Encode(cmd)
	if err != nil {
		return err
	}
	return c.sendCommand(ctx, payload)
}

// buildVISCAPayload constructs a raw VISCA command (address + payload + terminator)
func (c *Controller) buildVISCAPayload(payload []byte) []byte {
	// Address byte: 0x80 | address (1-7)
	cmd := make([]byte, 0, len(payload)+2)
	cmd = append(cmd, byte(0x80|c.addr))
	cmd = append(cmd, payload...)
	cmd = append(cmd, 0xFF) // Terminator
	return cmd
}

// buildVISCAOverIP wraps a VISCA payload in VISCA-over-IP framing
func (c *Controller) buildVISCAOverIP(viscaPayload []byte) []byte {
	// VISCA over IP header (8 bytes):
	// Bytes 0-1: Message type (0x01 0x00 for command)
	// Bytes 2-3: Payload length (big endian)
	// Bytes 4-7: Sequence number (big endian)
	header := make([]byte, 8, 8+len(viscaPayload))
	header[0] = 0x01
	header[1] = 0x00
	binary.BigEndian.PutUint16(header[2:4], uint16(len(viscaPayload)))
	binary.BigEndian.PutUint32(header[4:8], c.seqNum)
	c.seqNum++

	return append(header, viscaPayload...)
}

func (c *Controller) sendCommand(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ptz.ErrClosed
	}

	c.conn.SetDeadline(time.Time{})
	if c.waitReply && c.replyTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.replyTimeout))
	}

	// Unblock a pending write or read when ctx is done
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	packet := c.buildVISCAPayload(payload)
	if c.protocol == ProtocolUDPIP {
		packet = c.buildVISCAOverIP(packet)
	}

	if _, err := c.conn.Write(packet); err != nil {
		return fmt.Errorf("write VISCA command: %w", err)
	}

	if !c.waitReply {
		return nil
	}
	return c.awaitAck()
}

// awaitAck reads replies until the camera acknowledges the command just sent
// or rejects it. Completions, and errors for sockets opened by earlier
// commands, belong to those commands and are skipped.
func (c *Controller) awaitAck() error {
	for {
		msg, err := c.readReply()
		if err != nil {
			return fmt.Errorf("read VISCA reply: %w", err)
		}

		reply, err := ParseReply(msg)
		if err != nil {
			return err
		}
		switch reply.Kind {
		case ReplyAck:
			c.inflight[reply.Socket] = true
			return nil
		case ReplyCompletion:
			delete(c.inflight, reply.Socket)
		case ReplyError:
			if c.inflight[reply.Socket] {
				delete(c.inflight, reply.Socket)
				continue
			}
			return fmt.Errorf("%w: %s", ErrCommandFailed, reply.ErrorText())
		}
	}
}

// readReply returns the next complete VISCA message, without framing
func (c *Controller) readReply() ([]byte, error) {
	buf := make([]byte, 1024)

	if c.protocol != ProtocolTCP {
		// One reply per datagram
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		msg := buf[:n]
		if c.protocol == ProtocolUDPIP {
			if len(msg) < 8 {
				return nil, fmt.Errorf("short VISCA over IP reply: % X", msg)
			}
			msg = msg[8:]
		}
		return msg, nil
	}

	for {
		if i := indexTerminator(c.pending); i >= 0 {
			msg := append([]byte(nil), c.pending[:i+1]...)
			c.pending = c.pending[i+1:]
			return msg, nil
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		c.pending = append(c.pending, buf[:n]...)
	}
}

func indexTerminator(b []byte) int {
	for i, v := range b {
		if v == 0xFF {
			return i
		}
	}
	return -1
}
