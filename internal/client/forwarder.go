package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/reconnect"
)

// Forwarder sends messages to the broker over an agent WebSocket. Messages
// queued while the connection is down are held in a bounded buffer and
// replayed in order once it is back.
type Forwarder struct {
	url    string
	logger *slog.Logger
	buffer *reconnect.Buffer[*model.Message]
	notify chan struct{}

	// Dialer and Backoff may be replaced before Run.
	Dialer  *websocket.Dialer
	Backoff *reconnect.Backoff

	// OnMessage, when set, receives messages routed to this agent, such
	// as responses to its requests.
	OnMessage func(*model.Message)
	// OnError, when set, receives errors the broker reported for a sent
	// message.
	OnError func(id, msg string)
}

// NewForwarder returns a forwarder for the broker WebSocket endpoint at url
// (e.g. "ws://localhost:8080/ws?role=agent"). bufferSize <= 0 uses
// reconnect.DefaultBufferSize.
func NewForwarder(url string, bufferSize int, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		url:     url,
		logger:  logger,
		buffer:  reconnect.NewBuffer[*model.Message](bufferSize, logger),
		notify:  make(chan struct{}, 1),
		Dialer:  websocket.DefaultDialer,
		Backoff: reconnect.NewBackoff(),
	}
}

// Send queues msg for delivery. It never blocks on the network.
func (f *Forwarder) Send(msg *model.Message) {
	f.buffer.Push(msg)
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of messages not yet written to the broker.
func (f *Forwarder) Pending() int { return f.buffer.Len() }

// Dropped returns how many messages were discarded because the buffer was
// full.
func (f *Forwarder) Dropped() int { return f.buffer.Dropped() }

// Flush waits until every queued message has been written or ctx is done.
func (f *Forwarder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for f.buffer.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Run keeps a connection open and drains the buffer into it until ctx is
// done. It returns a *model.ConnectionError once reconnect attempts are
// exhausted.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		ws, err := dialWithBackoff(ctx, f.Dialer, f.url, f.Backoff, f.logger)
		if err != nil {
			return err
		}
		if ws == nil {
			return nil
		}

		err = f.serve(ctx, ws)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("forwarder connection lost, reconnecting",
			"url", f.url, "pending", f.buffer.Len(), "error", err)
	}
}

var errConnectionClosed = errors.New("connection closed")

// serve runs one connection: a reader for broker frames and a writer that
// replays the buffer. Either failing tears down both.
func (f *Forwarder) serve(ctx context.Context, ws *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { ws.Close() })
	defer stop()
	defer ws.Close()

	g.Go(func() error {
		for {
			var fr model.Frame
			if err := ws.ReadJSON(&fr); err != nil {
				return err
			}
			switch fr.Type {
			case model.FrameConnected:
				f.Backoff.Reset()
				f.logger.Debug("forwarder connected", "client_id", fr.ClientID)
			case model.FrameMessage:
				if fr.Message != nil && f.OnMessage != nil {
					f.OnMessage(fr.Message)
				}
			case model.FrameError:
				f.logger.Warn("broker rejected message", "id", fr.ID, "error", fr.Error)
				if f.OnError != nil {
					f.OnError(fr.ID, fr.Error)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			if _, err := f.buffer.Drain(func(msg *model.Message) error {
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
				return ws.WriteJSON(&model.Frame{Type: model.FrameMessage, Message: msg})
			}); err != nil {
				return err
			}
			select {
			case <-gctx.Done():
				return errConnectionClosed
			case <-f.notify:
			}
		}
	})

	return g.Wait()
}
