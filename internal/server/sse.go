package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/queue"
)

const (
	// sseReplaySize is the number of recent events kept for Last-Event-ID
	// reconnection.
	sseReplaySize = 1000

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent idle proxies from closing the stream.
	sseKeepaliveInterval = 15 * time.Second

	sseClientBuffer = 64
)

// sseEvent is a single event kept for replay and sent to SSE clients.
type sseEvent struct {
	ID      uint64 // monotonically increasing sequence number
	Topic   string
	Channel string
	Data    []byte // JSON-encoded payload
}

// sseHub fans out events from recordAndPublish to connected SSE clients.
type sseHub struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
	nextID  uint64
	replay  *queue.Ring[*sseEvent]
}

// sseClient is a single connected SSE consumer.
type sseClient struct {
	topics  []string // topic patterns to match (empty = all)
	channel string   // empty = all channels
	ch      chan *sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
		replay:  queue.New[*sseEvent](sseReplaySize),
	}
}

// broadcast assigns the event an id, keeps it for replay and sends it to
// every matching client. Slow clients miss events rather than block the
// caller; they can catch up with Last-Event-ID.
func (h *sseHub) broadcast(topic, channel string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	evt := &sseEvent{ID: h.nextID, Topic: topic, Channel: channel, Data: payload}
	h.replay.Push(evt)

	for c := range h.clients {
		if !c.matches(evt) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

// subscribe registers a client and returns the retained events newer than
// lastID that it should see first. Registration and the replay snapshot
// happen together so no event falls between them.
func (h *sseHub) subscribe(topics []string, channel string, lastID uint64) (*sseClient, []*sseEvent) {
	c := &sseClient{
		topics:  topics,
		channel: channel,
		ch:      make(chan *sseEvent, sseClientBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}

	var backlog []*sseEvent
	if lastID > 0 {
		for _, evt := range h.replay.Last(0) {
			if evt.ID > lastID && c.matches(evt) {
				backlog = append(backlog, evt)
			}
		}
	}
	return c, backlog
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *sseHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (c *sseClient) matches(evt *sseEvent) bool {
	if c.channel != "" && evt.Channel != c.channel {
		return false
	}
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, evt.Topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// Supports "*" as a single-segment wildcard and ">" as a multi-segment
// suffix wildcard (NATS-style).
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}

// handleEventStream handles GET /api/v1/events/stream.
// Query: topics (comma-separated patterns), channel.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	var topics []string
	if q := r.URL.Query().Get("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	channel := r.URL.Query().Get("channel")

	var lastID uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastID, _ = strconv.ParseUint(v, 10, 64)
	}

	client, backlog := s.sseHub.subscribe(topics, channel, lastID)
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	for _, evt := range backlog {
		writeSSEEvent(w, evt)
	}
	if err := rc.Flush(); err != nil {
		s.logger.Warn("sse stream not flushable", "error", err)
		return
	}

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
