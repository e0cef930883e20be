package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned by operations on a closed Session
var ErrSessionClosed = errors.New("preview session closed")

// SessionConfig for WebRTC sessions
type SessionConfig struct {
	ICEServers []string // STUN/TURN server URLs
}

// DefaultSessionConfig uses a public STUN server
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

// Session is one browser's WebRTC peer carrying the camera preview
type Session struct {
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticRTP
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

// NewSession creates a peer connection with an H.264 video track. onICE is
// called for every locally gathered candidate.
func NewSession(cfg SessionConfig, onICE func(webrtc.ICECandidateInit), logger *zap.SugaredLogger) (*Session, error) {
	config := webrtc.Configuration{}
	for _, url := range cfg.ICEServers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"ptz-camera",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add video track: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && onICE != nil {
			onICE(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debugw("WebRTC connection state changed", "state", state.String())
	})

	return &Session{pc: pc, track: track, logger: logger}, nil
}

// CreateOffer creates the local offer and returns it once ICE gathering is
// complete or ctx is done
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer applies the browser's SDP answer
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a candidate gathered by the browser
func (s *Session) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if err := s.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// Forward writes packets to the video track until packets is closed, ctx is
// done or the track rejects a write
func (s *Session) Forward(ctx context.Context, packets <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			if _, err := s.track.Write(packet); err != nil {
				return err
			}
		}
	}
}

// Close closes the peer connection
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pc.Close()
}
