// Package correlation matches request messages (questions, authorizations,
// navigation) with the response that answers them.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// Outcomes reported to Options.OnOutcome.
const (
	OutcomeAnswered  = "answered"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeDiscarded = "discarded"
)

// Options configures an Engine.
type Options struct {
	// Enqueue publishes the request once its pending entry exists. Required.
	Enqueue   func(ctx context.Context, msg *model.Message) error
	Logger    *slog.Logger
	OnOutcome func(outcome string) // optional
}

// Engine tracks pending requests keyed by the request message id.
type Engine struct {
	enqueue   func(context.Context, *model.Message) error
	logger    *slog.Logger
	onOutcome func(string)

	mu      sync.Mutex
	pending map[string]*pending
	auths   map[authKey]string // (channel, action) -> request id
}

type authKey struct {
	channel, action string
}

type pending struct {
	req  *model.Message
	auth *authKey
	// slot receives exactly one value: the response, or nil for an explicit
	// Cancel. It is filled under Engine.mu in the same step that removes the
	// entry from the pending map.
	slot chan *model.Message
}

// New returns an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		enqueue:   opts.Enqueue,
		logger:    logger,
		onOutcome: opts.OnOutcome,
		pending:   make(map[string]*pending),
		auths:     make(map[authKey]string),
	}
}

// Await enqueues req and waits for its response. A timeout <= 0 waits until
// ctx is done. On timeout it returns a *model.TimeoutError whose Default is a
// denied response for authorizations. When ctx is cancelled the pending entry
// is removed before Await returns, so no later response can resolve it; if a
// response had already claimed the entry, that response is returned instead.
func (e *Engine) Await(ctx context.Context, req *model.Message, timeout time.Duration) (*model.Message, error) {
	if !req.Content.Type.IsRequest() {
		return nil, &model.ValidationError{Errors: []model.FieldError{
			{Field: "content.type", Message: fmt.Sprintf("%q does not expect a response", req.Content.Type)},
		}}
	}
	p, err := e.register(req)
	if err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, req); err != nil {
		e.abandon(p)
		return nil, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case resp := <-p.slot:
		return e.finish(req, resp)
	case <-expired:
		if resp, claimed := e.abandon(p); claimed {
			return e.finish(req, resp)
		}
		e.report(OutcomeTimeout)
		return nil, &model.TimeoutError{CorrelationID: req.ID, After: timeout, Default: defaultOutcome(req)}
	case <-ctx.Done():
		if resp, claimed := e.abandon(p); claimed {
			return e.finish(req, resp)
		}
		e.report(OutcomeCancelled)
		return nil, fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err())
	}
}

func (e *Engine) finish(req, resp *model.Message) (*model.Message, error) {
	if resp == nil {
		e.report(OutcomeCancelled)
		return nil, fmt.Errorf("request %s: %w", req.ID, model.ErrCancelled)
	}
	e.report(OutcomeAnswered)
	return resp, nil
}

func (e *Engine) register(req *model.Message) (*pending, error) {
	p := &pending{req: req, slot: make(chan *model.Message, 1)}
	if req.Content.Type == model.ContentAuthorization {
		p.auth = &authKey{channel: req.Channel, action: req.Content.Action}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[req.ID]; ok {
		return nil, &model.ValidationError{Errors: []model.FieldError{
			{Field: "id", Message: fmt.Sprintf("request %s is already pending", req.ID)},
		}}
	}
	if p.auth != nil {
		if other, ok := e.auths[*p.auth]; ok {
			return nil, fmt.Errorf("action %q on channel %s (request %s): %w",
				p.auth.action, p.auth.channel, other, model.ErrDuplicateAuthorization)
		}
		e.auths[*p.auth] = req.ID
	}
	e.pending[req.ID] = p
	return p, nil
}

// remove deletes p from the maps. Must be called with e.mu held.
func (e *Engine) remove(p *pending) {
	delete(e.pending, p.req.ID)
	if p.auth != nil {
		delete(e.auths, *p.auth)
	}
}

// abandon removes p unless a resolver got there first, in which case the
// value it left in the slot is returned with claimed=true.
func (e *Engine) abandon(p *pending) (resp *model.Message, claimed bool) {
	e.mu.Lock()
	if e.pending[p.req.ID] == p {
		e.remove(p)
		e.mu.Unlock()
		return nil, false
	}
	e.mu.Unlock()
	return <-p.slot, true
}

// Resolve completes the pending request that msg answers. Responses with no
// live pending request, including every response after the first, are
// discarded. Resolve never blocks; it is registered as a channel.Listener.
func (e *Engine) Resolve(msg *model.Message) {
	if !msg.IsResponse() {
		return
	}
	e.mu.Lock()
	p, ok := e.pending[msg.CorrelationID]
	if ok {
		e.remove(p)
		p.slot <- msg
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("discarding response with no pending request",
			"correlation_id", msg.CorrelationID, "channel", msg.Channel)
		e.report(OutcomeDiscarded)
	}
}

// Cancel aborts a pending request on behalf of its waiter. It reports
// whether the request was pending.
func (e *Engine) Cancel(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[requestID]
	if !ok {
		return false
	}
	e.remove(p)
	p.slot <- nil
	return true
}

// IsPending reports whether requestID is waiting for a response.
func (e *Engine) IsPending(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[requestID]
	return ok
}

// Request returns the pending request with the given id.
func (e *Engine) Request(requestID string) (*model.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[requestID]
	if !ok {
		return nil, false
	}
	return p.req, true
}

// Pending returns the number of requests waiting for a response.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) report(outcome string) {
	if e.onOutcome != nil {
		e.onOutcome(outcome)
	}
}

// defaultOutcome is the implied answer when nobody responds in time.
func defaultOutcome(req *model.Message) *model.Message {
	if req.Content.Type != model.ContentAuthorization {
		return nil
	}
	return model.NewResponse(req.Channel, model.SenderSystem, req.ID, "", model.ResponseAuthorizationDenied)
}
