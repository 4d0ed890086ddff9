package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/ailoop/internal/events"
	"github.com/alfredjeanlab/ailoop/internal/hub"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 128 << 10
	wsControlBuffer  = 32
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn is one WebSocket client. Broadcast messages come from the hub
// connection's queue; replies to the client's own frames go through ctrl.
// Only writePump writes to the socket.
type wsConn struct {
	s    *Server
	ws   *websocket.Conn
	conn *hub.Conn

	ctrl   chan *model.Frame
	ctx    context.Context // cancelled when the connection ends
	cancel context.CancelFunc
}

// handleWebSocket handles GET /ws?role=agent|viewer&channels=a,b.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role, err := hub.ParseRole(q.Get("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var channels []string
	if v := q.Get("channels"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				if err := model.ValidateChannelName(name); err != nil {
					s.writeErr(w, err)
					return
				}
				channels = append(channels, name)
			}
		}
	}

	conn, err := s.hub.Register(role)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.hub.Deregister(conn.ID)
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &wsConn{
		s:      s,
		ws:     ws,
		conn:   conn,
		ctrl:   make(chan *model.Frame, wsControlBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	// connected must be the first frame, so it is written before the
	// pre-subscription can deliver anything and before writePump starts.
	if err := c.write(&model.Frame{Type: model.FrameConnected, ClientID: conn.ID, Role: string(role), Channels: channels}); err != nil {
		cancel()
		s.hub.Deregister(conn.ID)
		ws.Close()
		s.logger.Debug("websocket connected frame failed", "conn_id", conn.ID, "error", err)
		return
	}
	if len(channels) > 0 {
		if err := s.hub.Subscribe(conn.ID, channels); err != nil {
			s.logger.Warn("websocket pre-subscription failed", "conn_id", conn.ID, "error", err)
		}
	}

	s.logger.Info("websocket connected", "conn_id", conn.ID, "role", role, "remote", r.RemoteAddr)
	s.recordAndPublish(ctx, events.TopicConnectionOpened, "", conn.ID, string(role),
		events.ConnectionOpened{ConnID: conn.ID, Role: string(role)})

	go c.writePump()
	c.readPump()
}

// readPump reads client frames until the socket fails, then tears the
// connection down.
func (c *wsConn) readPump() {
	defer func() {
		c.cancel()
		c.s.hub.Deregister(c.conn.ID)
		c.ws.Close()
		c.s.logger.Info("websocket disconnected", "conn_id", c.conn.ID)
		c.s.recordAndPublish(context.Background(), events.TopicConnectionClosed, "", c.conn.ID, string(c.conn.Role),
			events.ConnectionClosed{ConnID: c.conn.ID, Role: string(c.conn.Role)})
	}()

	c.ws.SetReadLimit(wsMaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.s.logger.Debug("websocket read failed", "conn_id", c.conn.ID, "error", err)
			}
			return
		}
		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.replyError("", "invalid frame: "+err.Error())
			continue
		}
		c.handleFrame(&f)
	}
}

func (c *wsConn) handleFrame(f *model.Frame) {
	switch f.Type {
	case model.FrameSubscribe:
		if err := c.s.hub.Subscribe(c.conn.ID, f.Channels); err != nil {
			c.replyError("", err.Error())
			return
		}
		c.replyChannels()
	case model.FrameUnsubscribe:
		if err := c.s.hub.Unsubscribe(c.conn.ID, f.Channels); err != nil {
			c.replyError("", err.Error())
			return
		}
		c.replyChannels()
	case model.FrameListChannels:
		c.reply(&model.Frame{Type: model.FrameChannels, Channels: c.s.registry.Channels()})
	case model.FramePing:
		c.reply(&model.Frame{Type: model.FramePong})
	case model.FrameMessage:
		if f.Message == nil {
			c.replyError("", "message frame without message")
			return
		}
		c.handleMessage(f.Message)
	default:
		c.replyError("", "unknown frame type "+string(f.Type))
	}
}

// replyChannels sends the connection's current subscription. An empty list
// with no all-channels mode means nothing is subscribed.
func (c *wsConn) replyChannels() {
	all, names, err := c.s.hub.Subscription(c.conn.ID)
	if err != nil {
		return
	}
	if all {
		names = []string{"*"}
	}
	c.reply(&model.Frame{Type: model.FrameChannels, Channels: names})
}

// handleMessage enqueues a message sent by the client. The server assigns the
// timestamp, and the id when the client left it empty.
func (c *wsConn) handleMessage(msg *model.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = time.Now().UTC()
	if msg.Channel == "" {
		msg.Channel = c.s.defaultChannel
	}
	if msg.SenderType == "" {
		msg.SenderType = model.SenderHuman
		if c.conn.Role == hub.RoleAgent {
			msg.SenderType = model.SenderAgent
		}
	}
	if err := model.ValidateMessage(msg); err != nil {
		c.replyError(msg.ID, err.Error())
		return
	}

	switch {
	case IsTaskOperation(msg.Content.Type):
		task, err := c.s.ApplyTaskMessage(c.ctx, msg)
		if err != nil {
			c.replyError(msg.ID, err.Error())
			return
		}
		c.reply(&model.Frame{Type: model.FrameAck, ID: task.ID})

	case msg.IsResponse():
		resp, err := c.s.Respond(c.ctx, msg.CorrelationID, msg.Content.Answer, msg.Content.ResponseType, msg.SenderType)
		if err != nil {
			c.replyError(msg.ID, err.Error())
			return
		}
		c.reply(&model.Frame{Type: model.FrameAck, ID: resp.ID})

	case msg.Content.Type.IsRequest() && c.conn.Role == hub.RoleAgent:
		// The response, or the timeout/cancel outcome, is routed back to
		// this connection by the hub.
		c.s.hub.Expect(c.conn.ID, msg.ID)
		c.reply(&model.Frame{Type: model.FrameAck, ID: msg.ID})
		go func() {
			_, err := c.s.AwaitResponse(c.ctx, msg, 0)
			if err != nil && !errors.Is(err, model.ErrTimeout) && !errors.Is(err, model.ErrCancelled) {
				c.replyError(msg.ID, err.Error())
			}
		}()

	default:
		if err := c.s.Enqueue(c.ctx, msg); err != nil {
			c.replyError(msg.ID, err.Error())
			return
		}
		c.reply(&model.Frame{Type: model.FrameAck, ID: msg.ID})
	}
}

// reply queues a frame for writePump. It gives up when the connection ends.
func (c *wsConn) reply(f *model.Frame) {
	select {
	case c.ctrl <- f:
	case <-c.ctx.Done():
	case <-c.conn.Done():
	}
}

func (c *wsConn) replyError(id, msg string) {
	c.reply(&model.Frame{Type: model.FrameError, ID: id, Error: msg})
}

// writePump is the only writer on the socket. It sends delivered messages in
// queue order, control replies, and pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.conn.Messages():
			if err := c.write(&model.Frame{Type: model.FrameMessage, Message: msg}); err != nil {
				return
			}
		case f := <-c.ctrl:
			if err := c.write(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.conn.Done():
			// Deregistered, possibly as a slow consumer.
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection closed by server"))
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsConn) write(f *model.Frame) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(f)
}
