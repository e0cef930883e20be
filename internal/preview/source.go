// Package preview relays the camera's H.264 stream to browsers over WebRTC.
package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const (
	maxBackoff       = 30 * time.Second
	subscriberBuffer = 500
)

var errNoH264 = errors.New("stream has no H.264 video")

// Source reads RTP packets from an RTSP camera stream and fans them out to
// subscribers. Slow subscribers lose packets instead of stalling the others.
type Source struct {
	url    *base.URL
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu        sync.Mutex
	subs      map[chan []byte]struct{}
	connected bool
}

// NewSource validates rawURL and returns an idle Source
func NewSource(rawURL string, logger *zap.SugaredLogger) (*Source, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid RTSP URL: %w", err)
	}
	return &Source{
		url:    u,
		clock:  clock.New(),
		logger: logger,
		subs:   make(map[chan []byte]struct{}),
	}, nil
}

// Subscribe returns a channel of marshalled RTP packets and a function that
// removes the subscription and closes the channel
func (s *Source) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Connected reports whether the stream is currently playing
func (s *Source) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Run keeps the stream playing until ctx is done, reconnecting with
// exponential backoff
func (s *Source) Run(ctx context.Context) error {
	for attempt := 0; ; {
		client, err := s.connect()
		if err == nil {
			s.logger.Infow("RTSP stream playing", "url", s.url.String())
			attempt = 0
			err = s.wait(ctx, client)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warnw("RTSP connection lost", "error", err)
		}

		attempt++
		delay := backoff(attempt)
		s.logger.Infow("RTSP reconnect scheduled", "attempt", attempt, "delay", delay, "error", err)

		timer := s.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff returns 1s, 2s, 4s, ... capped at maxBackoff
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return maxBackoff
	}
	return min(time.Duration(1<<uint(attempt-1))*time.Second, maxBackoff)
}

// wait blocks until the client fails or ctx is done, then closes it
func (s *Source) wait(ctx context.Context, client *gortsplib.Client) error {
	done := make(chan error, 1)
	go func() { done <- client.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		client.Close()
		<-done
		err = ctx.Err()
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return err
}

func (s *Source) connect() (*gortsplib.Client, error) {
	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			s.logger.Debugw("RTSP decode error", "error", err)
		},
	}

	if err := client.Start(s.url.Scheme, s.url.Host); err != nil {
		return nil, err
	}

	desc, _, err := client.Describe(s.url)
	if err != nil {
		client.Close()
		return nil, err
	}

	var h264 *format.H264
	media := desc.FindFormat(&h264)
	if media == nil {
		client.Close()
		return nil, fmt.Errorf("%w, offered %v", errNoH264, mediaSummary(desc))
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return nil, err
	}

	client.OnPacketRTP(media, h264, func(pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		s.broadcast(buf)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return nil, err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return client, nil
}

func (s *Source) broadcast(packet []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- packet:
		default:
		}
	}
}

// mediaSummary lists the formats offered by a stream, for logs
func mediaSummary(desc *description.Session) []string {
	var out []string
	for _, m := range desc.Medias {
		for _, f := range m.Formats {
			out = append(out, fmt.Sprintf("%s/%s", m.Type, f.Codec()))
		}
	}
	return out
}
