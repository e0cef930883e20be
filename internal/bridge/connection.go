package bridge

import (
	"context"
	"errors"

	"ptz-bridge/internal/ptz"
)

type connState int

const (
	disconnected connState = iota
	connected
)

func (s connState) String() string {
	if s == connected {
		return "connected"
	}
	return "disconnected"
}

// Run drives the connection state machine until ctx is done.
//
// Disconnected: dial the camera. On success move to Connected, otherwise wait
// ReconnectInterval and dial again, forever.
// Connected: run the change-detection loop until a send fails, then close the
// transport and move back to Disconnected.
//
// The derived intent survives reconnects; a command whose send failed is not
// replayed and only a new change of intent produces another command.
func (b *Bridge) Run(ctx context.Context) error {
	state := disconnected
	var transport ptz.Transport

	b.logger.Infow("Bridge starting", "endpoint", b.cfg.Endpoint)

	for {
		switch state {
		case disconnected:
			t, err := b.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.logger.Warnw("Failed to connect to camera, retrying later",
					"endpoint", b.cfg.Endpoint, "retry_in", b.cfg.ReconnectInterval, "error", err)
				if err := b.sleep(ctx, b.cfg.ReconnectInterval); err != nil {
					return err
				}
				continue
			}

			transport = t
			state = connected
			b.logger.Debugw("Connection state changed", "state", state)
			b.setConnected(true, "")
			b.logger.Infow("Connected to camera", "endpoint", b.cfg.Endpoint)

		case connected:
			err := b.serve(ctx, transport)
			if closeErr := transport.Close(); closeErr != nil && !errors.Is(closeErr, ptz.ErrClosed) {
				b.logger.Debugw("Error closing transport", "error", closeErr)
			}
			transport = nil
			state = disconnected
			b.logger.Debugw("Connection state changed", "state", state)

			if ctx.Err() != nil {
				b.setConnected(false, "")
				b.logger.Infow("Bridge stopped")
				return ctx.Err()
			}

			b.setConnected(false, err.Error())
			b.logger.Errorw("Failed to send command, reconnecting", "error", err)
		}
	}
}

func (b *Bridge) dial(ctx context.Context) (ptz.Transport, error) {
	b.status.Update(func(s *Status) { s.ConnectAttempts++ })
	t, err := b.dialer.Dial(ctx, b.cfg.Endpoint)
	if err != nil {
		b.status.Update(func(s *Status) { s.LastError = err.Error() })
		return nil, err
	}
	return t, nil
}

func (b *Bridge) setConnected(ok bool, lastErr string) {
	b.status.Update(func(s *Status) {
		s.Connected = ok
		if lastErr != "" {
			s.LastError = lastErr
		}
	})
}
