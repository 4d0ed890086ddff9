package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/reconnect"
)

const wsWriteWait = 10 * time.Second

// Viewer follows broker channels over a WebSocket. When the connection
// drops it reconnects with exponential backoff and re-issues its
// subscription, so callers see one continuous stream.
type Viewer struct {
	url    string
	logger *slog.Logger

	// Dialer and Backoff may be replaced before Run.
	Dialer  *websocket.Dialer
	Backoff *reconnect.Backoff

	// The subscription re-issued on every reconnect, with the same
	// semantics as the broker's: all is an explicit mode, and an empty
	// channel set without it means nothing is subscribed.
	mu       sync.Mutex
	all      bool
	channels []string
	ws       *websocket.Conn
}

// NewViewer returns a viewer for the broker WebSocket endpoint at url
// (e.g. "ws://localhost:8080/ws?role=viewer") subscribed to channels.
// No channels subscribes to all of them.
func NewViewer(url string, channels []string, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{
		url:      url,
		logger:   logger,
		Dialer:   websocket.DefaultDialer,
		Backoff:  reconnect.NewBackoff(),
		all:      len(channels) == 0,
		channels: slices.Clone(channels),
	}
}

// Channels returns the named channels of the subscription.
func (v *Viewer) Channels() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.channels)
}

// All reports whether the viewer follows every channel.
func (v *Viewer) All() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.all
}

// Subscribe adds channels to the subscription and forwards the change to
// the live connection, if any. No channels switches to all-channels mode.
func (v *Viewer) Subscribe(channels ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(channels) == 0 {
		v.all = true
	}
	for _, ch := range channels {
		if !slices.Contains(v.channels, ch) {
			v.channels = append(v.channels, ch)
		}
	}
	return v.writeLocked(&model.Frame{Type: model.FrameSubscribe, Channels: channels})
}

// Unsubscribe removes channels from the subscription; all-channels mode is
// left as it is. No channels clears the whole subscription.
func (v *Viewer) Unsubscribe(channels ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(channels) == 0 {
		v.all = false
		v.channels = nil
	} else {
		v.channels = slices.DeleteFunc(v.channels, func(ch string) bool {
			return slices.Contains(channels, ch)
		})
	}
	return v.writeLocked(&model.Frame{Type: model.FrameUnsubscribe, Channels: channels})
}

// resubscribeLocked restores the subscription on a fresh connection. An
// empty subscribe frame means all channels to the broker, so it is only
// sent in all-channels mode.
func (v *Viewer) resubscribeLocked() error {
	if v.all {
		if err := v.writeLocked(&model.Frame{Type: model.FrameSubscribe}); err != nil {
			return err
		}
	}
	if len(v.channels) > 0 {
		return v.writeLocked(&model.Frame{Type: model.FrameSubscribe, Channels: v.channels})
	}
	return nil
}

func (v *Viewer) writeLocked(f *model.Frame) error {
	if v.ws == nil {
		return nil
	}
	_ = v.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return v.ws.WriteJSON(f)
}

// Run delivers messages to fn until ctx is done or fn returns an error.
// It returns a *model.ConnectionError once reconnect attempts are exhausted.
func (v *Viewer) Run(ctx context.Context, fn func(*model.Message) error) error {
	for {
		ws, err := dialWithBackoff(ctx, v.Dialer, v.url, v.Backoff, v.logger)
		if err != nil {
			return err
		}
		if ws == nil {
			return nil // ctx done
		}

		err = v.serve(ctx, ws, fn)
		if ctx.Err() != nil {
			return nil
		}
		var he handlerError
		if errors.As(err, &he) {
			return he.err
		}
		v.logger.Warn("viewer connection lost, reconnecting", "url", v.url, "error", err)
	}
}

// handlerError carries an error returned by the caller's callback, which
// ends Run instead of triggering a reconnect.
type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }

func (v *Viewer) serve(ctx context.Context, ws *websocket.Conn, fn func(*model.Message) error) error {
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()
	defer func() {
		v.mu.Lock()
		v.ws = nil
		v.mu.Unlock()
		ws.Close()
	}()

	v.mu.Lock()
	v.ws = ws
	err := v.resubscribeLocked()
	v.mu.Unlock()
	if err != nil {
		return err
	}

	for {
		var f model.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case model.FrameConnected:
			v.Backoff.Reset()
			v.logger.Debug("viewer connected", "client_id", f.ClientID)
		case model.FrameMessage:
			if f.Message == nil {
				continue
			}
			if err := fn(f.Message); err != nil {
				return handlerError{err}
			}
		case model.FrameError:
			v.logger.Warn("broker reported an error", "error", f.Error)
		}
	}
}

// dialWithBackoff connects to url, retrying with b until it is exhausted.
// It returns (nil, nil) when ctx ends first.
func dialWithBackoff(ctx context.Context, d *websocket.Dialer, url string, b *reconnect.Backoff, logger *slog.Logger) (*websocket.Conn, error) {
	for {
		ws, resp, err := d.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			return ws, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &model.ConnectionError{Addr: url, Err: fmt.Errorf("handshake rejected: %s", resp.Status)}
		}

		delay, ok := b.Next()
		if !ok {
			return nil, &model.ConnectionError{Addr: url, Attempts: b.Attempt, Err: err}
		}
		logger.Debug("websocket dial failed, retrying", "url", url, "attempt", b.Attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(delay):
		}
	}
}
