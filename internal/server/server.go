// Package server serves the web console: live bridge status, an optional
// browser joystick and the camera preview.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ptz-bridge/internal/bridge"
	"ptz-bridge/internal/joystick"
	"ptz-bridge/internal/preview"
	"ptz-bridge/internal/protocol"
	"ptz-bridge/internal/watch"
)

const (
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	sendBuffer      = 256
)

// Config for the server
type Config struct {
	ListenAddr string
	// WebInput lets browsers publish joystick states
	WebInput bool
	Session  preview.SessionConfig
}

// Option configures optional collaborators
type Option func(*Server)

// WithPreview streams source to every client over WebRTC
func WithPreview(source *preview.Source) Option {
	return func(s *Server) {
		s.source = source
	}
}

// Server is the web console
type Server struct {
	cfg      Config
	staticFS fs.FS
	status   *watch.Cell[bridge.Status]
	input    *joystick.Cell
	source   *preview.Source
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*Client]struct{}
}

// New creates a server. status is observed and pushed to clients; input
// receives browser joystick states when cfg.WebInput is set.
func New(cfg Config, staticFS fs.FS, status *watch.Cell[bridge.Status], input *joystick.Cell, logger *zap.SugaredLogger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		staticFS: staticFS,
		status:   status,
		input:    input,
		logger:   logger,
		clients:  make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/", http.FileServer(http.FS(s.staticFS)))
	return mux
}

// Run listens on the configured address and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then disconnects every client
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	s.logger.Infow("Web console listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return multierr.Append(err, s.Stop())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := multierr.Combine(srv.Shutdown(shutdownCtx), s.Stop())
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
		err = multierr.Append(err, serveErr)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Stop disconnects every client
func (s *Server) Stop() error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	var err error
	for _, c := range clients {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	client.logger = s.logger.With("client", client.id)

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()
	client.logger.Infow("Client connected", "remote", r.RemoteAddr)

	// Subscribe before the first status so no change is missed
	statusRx := s.status.Subscribe()
	client.sendStatus(s.status.Current())

	go client.writePump()
	go client.statusPump(statusRx)
	go client.readPump()

	if s.source != nil {
		go client.startPreview()
	}
}

func (s *Server) remove(c *Client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

// Client is one connected browser
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *zap.SugaredLogger
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	session  *preview.Session
	steering bool // sent at least one joystick state
	closed   bool
}

// ID returns the client's session id
func (c *Client) ID() string {
	return c.id
}

func (c *Client) statusPump(rx *watch.Receiver[bridge.Status]) {
	for {
		st, err := rx.Wait(c.ctx)
		if err != nil {
			return
		}
		c.sendStatus(st)
	}
}

func (c *Client) sendStatus(st bridge.Status) {
	c.sendMessage(protocol.TypeStatus, protocol.StatusPayload{
		ClientID: c.id,
		Bridge:   st,
		Preview:  c.server.source != nil && c.server.source.Connected(),
		WebInput: c.server.cfg.WebInput,
	})
}

func (c *Client) startPreview() {
	session, err := preview.NewSession(c.server.cfg.Session, func(candidate webrtc.ICECandidateInit) {
		c.sendMessage(protocol.TypeICECandidate, protocol.ICECandidatePayload{
			Candidate:     candidate.Candidate,
			SDPMid:        candidate.SDPMid,
			SDPMLineIndex: candidate.SDPMLineIndex,
		})
	}, c.logger)
	if err != nil {
		c.logger.Warnw("Failed to create preview session", "error", err)
		c.sendError(protocol.ErrPreview, err.Error())
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		return
	}
	c.session = session
	c.mu.Unlock()

	offer, err := session.CreateOffer(c.ctx)
	if err != nil {
		c.logger.Warnw("Failed to create preview offer", "error", err)
		c.sendError(protocol.ErrPreview, err.Error())
		return
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	packets, unsubscribe := c.server.source.Subscribe()
	defer unsubscribe()
	if err := session.Forward(c.ctx, packets); err != nil && c.ctx.Err() == nil {
		c.logger.Debugw("Preview forwarding stopped", "error", err)
	}
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.logger.Errorw("Failed to create message", "type", msgType, "error", err)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorw("Failed to marshal message", "type", msgType, "error", err)
		return
	}

	select {
	case <-c.ctx.Done():
	case c.send <- data:
	default:
		c.logger.Warnw("Client send buffer full, dropping message", "type", msgType)
	}
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warnw("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close disconnects the client and releases its preview session. A browser
// that was steering leaves pan/tilt centered.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	session := c.session
	steering := c.steering
	c.mu.Unlock()

	c.cancel()
	c.server.remove(c)
	c.logger.Infow("Client disconnected")

	if steering {
		c.server.input.Update(func(s *joystick.State) {
			s.X, s.Y = 0, 0
		})
	}
	if session != nil {
		return session.Close()
	}
	return nil
}
