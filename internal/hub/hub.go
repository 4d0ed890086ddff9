// Package hub tracks live transport connections, their roles and channel
// subscriptions, and fans newly enqueued messages out to them.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alfredjeanlab/ailoop/internal/idgen"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

// Role distinguishes producers from observers.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleViewer Role = "viewer"
)

// ParseRole converts a wire value to a Role. The empty string is a viewer.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleViewer:
		return RoleViewer, nil
	case RoleAgent:
		return RoleAgent, nil
	}
	return "", fmt.Errorf("unknown role %q (must be agent or viewer)", s)
}

// DefaultQueueSize is the per-connection outbound buffer.
const DefaultQueueSize = 256

// ErrTooManyConnections is returned by Register when the limit is reached.
var ErrTooManyConnections = errors.New("connection limit reached")

// ErrUnknownConnection is returned for operations on a deregistered id.
var ErrUnknownConnection = errors.New("unknown connection")

// SubscriberIndex receives subscription changes so channels can report their
// subscribers. *channel.Registry implements it.
type SubscriberIndex interface {
	Subscribe(channel, connID string) error
	Unsubscribe(channel, connID string)
}

// Options configures a Hub.
type Options struct {
	Index          SubscriberIndex // optional
	QueueSize      int             // per-connection outbound buffer (default DefaultQueueSize)
	MaxConnections int             // 0 = unlimited
	Logger         *slog.Logger
	// OnDrop is called when a slow connection is dropped.
	OnDrop func(connID string)
}

// Conn is one registered connection. Messages delivered to it arrive on
// Messages() in delivery order; Done() is closed once it is deregistered.
type Conn struct {
	ID   string
	Role Role

	out      chan *model.Message
	done     chan struct{}
	once     sync.Once
	dropping atomic.Bool

	sub Subscription // guarded by Hub.mu

	mu       sync.Mutex
	awaiting map[string]struct{} // request ids this agent is waiting on
}

// Messages returns the connection's delivery queue.
func (c *Conn) Messages() <-chan *model.Message { return c.out }

// Done is closed when the connection is deregistered or dropped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Hub is the connection manager and broadcast engine.
type Hub struct {
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New returns an empty Hub.
func New(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		opts:   opts,
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// Register adds a connection with the given role and no subscriptions.
func (h *Hub) Register(role Role) (*Conn, error) {
	id, err := idgen.Generate(idgen.PrefixWebSocket)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ID:       id,
		Role:     role,
		out:      make(chan *model.Message, h.opts.QueueSize),
		done:     make(chan struct{}),
		awaiting: make(map[string]struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.opts.MaxConnections > 0 && len(h.conns) >= h.opts.MaxConnections {
		return nil, ErrTooManyConnections
	}
	h.conns[id] = c
	h.logger.Debug("connection registered", "conn_id", id, "role", role)
	return c, nil
}

// Subscribe adds channels to a connection's subscription. An empty list means
// all channels. Every name is validated before anything changes.
func (h *Hub) Subscribe(id string, channels []string) error {
	for _, name := range channels {
		if err := model.ValidateChannelName(name); err != nil {
			return err
		}
	}

	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	var added []string
	if len(channels) == 0 {
		c.sub.SetAll()
	} else {
		added = c.sub.Add(channels...)
	}
	h.mu.Unlock()

	// The index is updated outside h.mu: the registry calls Deliver while
	// holding a channel lock, so taking a channel lock under h.mu could deadlock.
	if h.opts.Index != nil {
		for _, name := range added {
			if err := h.opts.Index.Subscribe(name, id); err != nil {
				return err
			}
		}
		// A concurrent Deregister may have missed the names added above.
		if !h.registered(id) {
			for _, name := range added {
				h.opts.Index.Unsubscribe(name, id)
			}
		}
	}
	return nil
}

func (h *Hub) registered(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// Unsubscribe removes channels from a connection's subscription. Names that
// are not subscribed are ignored. An empty list clears everything, including
// all-channels mode.
func (h *Hub) Unsubscribe(id string, channels []string) error {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	var removed []string
	if len(channels) == 0 {
		removed = c.sub.Clear()
	} else {
		removed = c.sub.Remove(channels...)
	}
	h.mu.Unlock()

	if h.opts.Index != nil {
		for _, name := range removed {
			h.opts.Index.Unsubscribe(name, id)
		}
	}
	return nil
}

// Subscription returns a connection's current mode and named channels.
func (h *Hub) Subscription(id string) (all bool, channels []string, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	if !ok {
		return false, nil, ErrUnknownConnection
	}
	return c.sub.All(), c.sub.Channels(), nil
}

// Expect records that an agent connection is waiting for the response to
// requestID, so that response is routed back to it.
func (h *Hub) Expect(id, requestID string) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.awaiting[requestID] = struct{}{}
	c.mu.Unlock()
}

// Deliver fans msg out. Viewers receive it when their subscription matches;
// agents receive only responses to requests they sent. Sends never block: a
// connection whose queue is full is dropped and delivery continues.
//
// Deliver is registered as a channel.Listener, so calls for one channel are
// serialized in enqueue order.
func (h *Hub) Deliver(msg *model.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		switch c.Role {
		case RoleViewer:
			if !c.sub.Matches(msg.Channel) {
				continue
			}
		case RoleAgent:
			if !msg.IsResponse() || !c.claimResponse(msg.CorrelationID) {
				continue
			}
		}
		h.send(c, msg)
	}
}

func (c *Conn) claimResponse(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.awaiting[requestID]; !ok {
		return false
	}
	delete(c.awaiting, requestID)
	return true
}

// send must be called with h.mu held for reading.
func (h *Hub) send(c *Conn, msg *model.Message) {
	if c.dropping.Load() {
		return
	}
	select {
	case c.out <- msg:
	default:
		if c.dropping.CompareAndSwap(false, true) {
			h.logger.Warn("dropping slow connection", "conn_id", c.ID, "role", c.Role, "queued", len(c.out))
			go h.Deregister(c.ID)
			if h.opts.OnDrop != nil {
				h.opts.OnDrop(c.ID)
			}
		}
	}
}

// Deregister removes a connection and all of its subscriptions. It is safe
// to call more than once.
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	names := c.sub.Channels()
	c.once.Do(func() { close(c.done) })
	if h.opts.Index != nil {
		for _, name := range names {
			h.opts.Index.Unsubscribe(name, id)
		}
	}
	h.logger.Debug("connection deregistered", "conn_id", id)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats summarizes live connections. ActiveChannels counts the distinct
// channels viewers subscribed to by name.
func (h *Hub) Stats() model.BroadcastStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := model.BroadcastStats{TotalConnections: len(h.conns)}
	channels := make(map[string]struct{})
	for _, c := range h.conns {
		switch c.Role {
		case RoleAgent:
			st.AgentConnections++
		case RoleViewer:
			st.ViewerConnections++
			for n := range c.sub.channels {
				channels[n] = struct{}{}
			}
		}
	}
	st.ActiveChannels = len(channels)
	return st
}
