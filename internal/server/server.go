// Package server composes the broker runtime (channel registry, connection
// hub, correlation engine and task graphs) and exposes it over HTTP,
// WebSocket, SSE and gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/channel"
	"github.com/alfredjeanlab/ailoop/internal/correlation"
	"github.com/alfredjeanlab/ailoop/internal/events"
	"github.com/alfredjeanlab/ailoop/internal/hub"
	"github.com/alfredjeanlab/ailoop/internal/metrics"
	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/store"
	"github.com/alfredjeanlab/ailoop/internal/taskgraph"
)

// Version is reported by the health endpoints. Overridden at build time.
var Version = "dev"

// Options configures a Server. Zero values fall back to the defaults of each
// component.
type Options struct {
	HistorySize     int
	ViewerQueueSize int
	MaxConnections  int
	DefaultTimeout  time.Duration // 0 = requests wait until answered or cancelled
	DefaultChannel  string

	Publisher events.Publisher // nil = no event bus
	Store     store.Store      // nil = in-memory audit log
	Logger    *slog.Logger
}

// Server is the broker. All transports call into it; it owns every piece of
// runtime state.
type Server struct {
	registry *channel.Registry
	hub      *hub.Hub
	engine   *correlation.Engine
	graphs   *taskgraph.Graphs

	publisher events.Publisher
	store     store.Store
	sseHub    *sseHub
	metrics   *metrics.Metrics
	logger    *slog.Logger

	defaultTimeout time.Duration
	defaultChannel string
	started        time.Time
}

// New wires the broker components together.
func New(opts Options) *Server {
	s := &Server{
		graphs:         taskgraph.New(),
		publisher:      opts.Publisher,
		store:          opts.Store,
		sseHub:         newSSEHub(),
		logger:         opts.Logger,
		defaultTimeout: opts.DefaultTimeout,
		defaultChannel: opts.DefaultChannel,
		started:        time.Now(),
	}
	if s.publisher == nil {
		s.publisher = &events.NoopPublisher{}
	}
	if s.store == nil {
		s.store = store.NewMemory(0)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.defaultChannel == "" {
		s.defaultChannel = "public"
	}

	s.metrics = metrics.New(metrics.Gauges{
		Connections:     func() int { return s.hub.Count() },
		PendingRequests: func() int { return s.engine.Pending() },
		ActiveChannels:  func() int { return len(s.registry.Channels()) },
		QueuedMessages:  func() int { return s.registry.TotalMessages() },
	})
	s.registry = channel.New(channel.Options{
		Capacity: opts.HistorySize,
		OnEvict:  func(*model.Message) { s.metrics.MessageEvicted() },
	})
	s.hub = hub.New(hub.Options{
		Index:          s.registry,
		QueueSize:      opts.ViewerQueueSize,
		MaxConnections: opts.MaxConnections,
		Logger:         s.logger,
		OnDrop:         func(string) { s.metrics.ViewerDropped() },
	})
	s.engine = correlation.New(correlation.Options{
		Enqueue:   s.Enqueue,
		Logger:    s.logger,
		OnOutcome: s.metrics.RequestOutcome,
	})

	// Delivery first, so a viewer sees a request before any response to it.
	s.registry.Listen(s.hub.Deliver)
	s.registry.Listen(s.engine.Resolve)
	return s
}

// Metrics returns the server's instrumentation.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// DefaultChannel is the channel used when a request names none.
func (s *Server) DefaultChannel() string { return s.defaultChannel }

// recordAndPublish persists an event to the store, publishes it to NATS and
// fans it out to SSE clients. All three are best-effort; failures are logged
// but do not fail the caller.
func (s *Server) recordAndPublish(ctx context.Context, topic, channel, subjectID, actor string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event", "topic", topic, "subject_id", subjectID, "error", err)
		return
	}
	if err := s.store.RecordEvent(ctx, &model.Event{
		Topic:     topic,
		Channel:   channel,
		SubjectID: subjectID,
		Actor:     actor,
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("failed to record event", "topic", topic, "subject_id", subjectID, "error", err)
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "subject_id", subjectID, "error", err)
	}
	s.sseHub.broadcast(topic, channel, payload)
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// --- messaging ---

// Enqueue appends msg to its channel, delivers it to subscribers and resolves
// any request it answers.
func (s *Server) Enqueue(ctx context.Context, msg *model.Message) error {
	if err := s.registry.Enqueue(msg); err != nil {
		return err
	}
	s.metrics.MessageEnqueued(string(msg.Content.Type))
	s.recordAndPublish(ctx, events.TopicMessageEnqueued, msg.Channel, msg.ID, string(msg.SenderType),
		events.MessageEnqueued{Message: msg})
	return nil
}

// Send builds and enqueues a message. Requests sent this way do not wait for
// their response; use AwaitResponse for that.
func (s *Server) Send(ctx context.Context, channel string, sender model.SenderType, content model.Content, metadata map[string]any) (*model.Message, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	msg := model.NewMessage(channel, sender, content)
	msg.Metadata = metadata
	if err := s.Enqueue(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// requestTimeout picks the wait for req: the explicit argument, then the
// message's own timeout_seconds, then the server default.
func (s *Server) requestTimeout(req *model.Message, timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if req.Content.TimeoutSeconds > 0 {
		return time.Duration(req.Content.TimeoutSeconds) * time.Second
	}
	return s.defaultTimeout
}

// AwaitResponse enqueues a request and blocks until it is answered, times
// out or ctx is done. On timeout or cancellation a SYSTEM response recording
// the outcome is enqueued so observers see the request close; for an
// authorization that timed out, it is the implied denial.
func (s *Server) AwaitResponse(ctx context.Context, req *model.Message, timeout time.Duration) (*model.Message, error) {
	timeout = s.requestTimeout(req, timeout)
	start := time.Now()
	resp, err := s.engine.Await(ctx, req, timeout)
	s.metrics.RequestWait(time.Since(start))

	outcome := correlation.OutcomeAnswered
	var closing *model.Message
	var te *model.TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &te):
		outcome = correlation.OutcomeTimeout
		closing = te.Default
		if closing == nil {
			closing = model.NewResponse(req.Channel, model.SenderSystem, req.ID, "", model.ResponseTimeout)
		}
	case errors.Is(err, model.ErrCancelled):
		outcome = correlation.OutcomeCancelled
		closing = model.NewResponse(req.Channel, model.SenderSystem, req.ID, "", model.ResponseCancelled)
	default:
		// Rejected before it was pending: nothing to close.
		return nil, err
	}

	// The caller's context may already be done; the bookkeeping must still happen.
	bg := context.WithoutCancel(ctx)
	if closing != nil {
		if qerr := s.Enqueue(bg, closing); qerr != nil {
			s.logger.Warn("failed to enqueue request outcome", "request_id", req.ID, "outcome", outcome, "error", qerr)
		}
	}
	s.recordAndPublish(bg, events.TopicRequestResolved, req.Channel, req.ID, string(req.SenderType), events.RequestResolved{
		RequestID: req.ID,
		Channel:   req.Channel,
		Outcome:   outcome,
		Response:  resp,
	})
	return resp, err
}

// Ask sends a question and waits for the answer.
func (s *Server) Ask(ctx context.Context, channel, text string, timeout time.Duration, choices ...string) (*model.Message, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	req := model.NewMessage(channel, model.SenderAgent, model.Question(text, int(timeout/time.Second), choices...))
	return s.AwaitResponse(ctx, req, timeout)
}

// Authorize requests approval for an action. Anything other than an explicit
// approval, including a timeout, is a denial.
func (s *Server) Authorize(ctx context.Context, channel, action, context string, timeout time.Duration) (correlation.Decision, *model.Message, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	req := model.NewMessage(channel, model.SenderAgent, model.Authorization(action, context, int(timeout/time.Second)))
	resp, err := s.AwaitResponse(ctx, req, timeout)
	return correlation.DecisionOf(resp, err), resp, err
}

// Navigate asks a human to open url and waits for acknowledgement.
func (s *Server) Navigate(ctx context.Context, channel, url string, timeout time.Duration) (*model.Message, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	req := model.NewMessage(channel, model.SenderAgent, model.Navigate(url))
	req.Content.TimeoutSeconds = int(timeout / time.Second)
	return s.AwaitResponse(ctx, req, timeout)
}

// Respond answers the request identified by requestID. The request must be
// pending or still in its channel's history.
func (s *Server) Respond(ctx context.Context, requestID, answer string, rt model.ResponseType, sender model.SenderType) (*model.Message, error) {
	req, ok := s.engine.Request(requestID)
	if !ok {
		if req, ok = s.registry.Lookup(requestID); !ok {
			return nil, fmt.Errorf("request %s: %w", requestID, model.ErrNotFound)
		}
	}
	if !req.Content.Type.IsRequest() {
		return nil, inputError(fmt.Sprintf("message %s is a %s and does not take a response", requestID, req.Content.Type))
	}
	if rt == "" {
		rt = model.ResponseText
	}
	if req.Content.Type == model.ContentAuthorization && rt == model.ResponseText {
		rt = authorizationAnswer(answer)
	}
	if sender == "" {
		sender = model.SenderHuman
	}

	resp := model.NewResponse(req.Channel, sender, req.ID, answer, rt)
	if err := s.Enqueue(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// authorizationAnswer reads a free-text answer to an authorization. Only a
// clear yes approves.
func authorizationAnswer(answer string) model.ResponseType {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "approve", "approved", "allow":
		return model.ResponseAuthorizationApproved
	}
	return model.ResponseAuthorizationDenied
}

// CancelRequest aborts a pending request; its waiter returns ErrCancelled.
func (s *Server) CancelRequest(_ context.Context, requestID string) error {
	if !s.engine.Cancel(requestID) {
		return fmt.Errorf("pending request %s: %w", requestID, model.ErrNotFound)
	}
	return nil
}

// GetMessage returns a retained message by id.
func (s *Server) GetMessage(id string) (*model.Message, error) {
	msg, ok := s.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	return msg, nil
}

// History returns up to limit of a channel's newest messages, oldest first.
func (s *Server) History(channel string, limit int) ([]*model.Message, error) {
	if err := s.registry.Validate(channel); err != nil {
		return nil, err
	}
	out := []*model.Message{}
	for m := range s.registry.History(channel, limit) {
		out = append(out, m)
	}
	return out, nil
}

// Channels returns statistics for every active channel, sorted by name.
func (s *Server) Channels() []*model.ChannelStats {
	names := s.registry.Channels()
	out := make([]*model.ChannelStats, 0, len(names))
	for _, name := range names {
		st, err := s.registry.Stats(name)
		if err != nil {
			continue // emptied since listed
		}
		out = append(out, st)
	}
	return out
}

// ChannelStats returns statistics for one channel.
func (s *Server) ChannelStats(name string) (*model.ChannelStats, error) {
	if err := s.registry.Validate(name); err != nil {
		return nil, err
	}
	return s.registry.Stats(name)
}

// BroadcastStats summarizes live connections.
func (s *Server) BroadcastStats() model.BroadcastStats {
	return s.hub.Stats()
}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	ActiveConnections int     `json:"activeConnections"`
	QueueSize         int     `json:"queueSize"`
	ActiveChannels    int     `json:"activeChannels"`
	PendingRequests   int     `json:"pendingRequests"`
}

// Health reports liveness and load.
func (s *Server) Health() HealthStatus {
	return HealthStatus{
		Status:            "healthy",
		Version:           Version,
		UptimeSeconds:     time.Since(s.started).Seconds(),
		ActiveConnections: s.hub.Count(),
		QueueSize:         s.registry.TotalMessages(),
		ActiveChannels:    len(s.registry.Channels()),
		PendingRequests:   s.engine.Pending(),
	}
}

// ListEvents returns audit events from the store.
func (s *Server) ListEvents(ctx context.Context, f model.EventFilter) ([]*model.Event, error) {
	return s.store.ListEvents(ctx, f)
}

// Tasks returns every task in every channel. It satisfies export.Source.
func (s *Server) Tasks() []*model.Task {
	return s.graphs.Snapshot()
}

// Snapshot returns the view of the server used by periodic exports.
func (s *Server) Snapshot() *Snapshot { return &Snapshot{s: s} }

// Snapshot adapts a Server to export.Source.
type Snapshot struct{ s *Server }

func (v *Snapshot) Tasks() []*model.Task                { return v.s.Tasks() }
func (v *Snapshot) ChannelStats() []*model.ChannelStats { return v.s.Channels() }
