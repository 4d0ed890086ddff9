// Package channel owns channel existence, naming validation and each channel's
// bounded message history.
package channel

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/queue"
)

// DefaultCapacity is the number of messages retained per channel.
const DefaultCapacity = 1000

// Listener is notified of every enqueued message while the channel's lock is
// held, so listeners see each channel's messages in enqueue order. A listener
// must not block and must not call back into the Registry for the same channel.
type Listener func(msg *model.Message)

// Options configures a Registry.
type Options struct {
	Capacity int                          // per-channel history size (default DefaultCapacity)
	OnEvict  func(evicted *model.Message) // optional, called under the channel lock
}

// Registry holds all channels. The registry lock only guards the name->channel
// map; history and subscribers are guarded per channel so unrelated channels
// never contend.
type Registry struct {
	capacity int
	onEvict  func(*model.Message)

	mu        sync.RWMutex
	channels  map[string]*channel
	listeners []Listener

	index sync.Map // message id -> *model.Message, pruned on eviction
}

type channel struct {
	name      string
	createdAt time.Time

	mu          sync.Mutex
	history     *queue.Ring[*model.Message]
	subscribers map[string]struct{}
}

// New returns an empty registry.
func New(opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Registry{
		capacity: opts.Capacity,
		onEvict:  opts.OnEvict,
		channels: make(map[string]*channel),
	}
}

// Listen adds a listener for enqueued messages.
func (r *Registry) Listen(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Validate checks a channel name without creating anything.
func (r *Registry) Validate(name string) error {
	return model.ValidateChannelName(name)
}

func (r *Registry) get(name string) *channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[name]
}

func (r *Registry) getOrCreate(name string) (*channel, []Listener) {
	r.mu.RLock()
	ch, ok := r.channels[name]
	ls := r.listeners
	r.mu.RUnlock()
	if ok {
		return ch, ls
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok = r.channels[name]; !ok {
		ch = &channel{
			name:        name,
			createdAt:   time.Now().UTC(),
			history:     queue.New[*model.Message](r.capacity),
			subscribers: make(map[string]struct{}),
		}
		r.channels[name] = ch
	}
	return ch, r.listeners
}

// Enqueue validates msg and appends it to its channel's history, creating the
// channel on first use. When the history is full the oldest message is evicted
// so the capacity is never exceeded. Listeners run before Enqueue returns.
func (r *Registry) Enqueue(msg *model.Message) error {
	if err := model.ValidateMessage(msg); err != nil {
		return err
	}
	ch, listeners := r.getOrCreate(msg.Channel)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, dup := r.index.LoadOrStore(msg.ID, msg); dup {
		return &model.ValidationError{Errors: []model.FieldError{
			{Field: "id", Message: fmt.Sprintf("message %s was already enqueued", msg.ID)},
		}}
	}
	if old, evicted := ch.history.Push(msg); evicted {
		r.index.Delete(old.ID)
		if r.onEvict != nil {
			r.onEvict(old)
		}
	}
	for _, l := range listeners {
		l(msg)
	}
	return nil
}

// History returns the newest limit messages of a channel, oldest first
// (limit <= 0 means all retained messages). The sequence reads the channel
// each time it is ranged over and keeps no state between iterations.
func (r *Registry) History(name string, limit int) iter.Seq[*model.Message] {
	return func(yield func(*model.Message) bool) {
		ch := r.get(name)
		if ch == nil {
			return
		}
		ch.mu.Lock()
		msgs := ch.history.Last(limit)
		ch.mu.Unlock()
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}

// Lookup finds a retained message by id.
func (r *Registry) Lookup(id string) (*model.Message, bool) {
	v, ok := r.index.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*model.Message), true
}

// Channels returns the sorted names of channels holding at least one message
// or one subscriber.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	chans := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(chans))
	for _, ch := range chans {
		ch.mu.Lock()
		active := ch.history.Len() > 0 || len(ch.subscribers) > 0
		ch.mu.Unlock()
		if active {
			names = append(names, ch.name)
		}
	}
	slices.Sort(names)
	return names
}

// Subscribe records connID as a subscriber of the named channel, creating the
// channel if needed.
func (r *Registry) Subscribe(name, connID string) error {
	if err := model.ValidateChannelName(name); err != nil {
		return err
	}
	ch, _ := r.getOrCreate(name)
	ch.mu.Lock()
	ch.subscribers[connID] = struct{}{}
	ch.mu.Unlock()
	return nil
}

// Unsubscribe removes connID from the named channel. Unknown channels and
// non-subscribers are ignored.
func (r *Registry) Unsubscribe(name, connID string) {
	ch := r.get(name)
	if ch == nil {
		return
	}
	ch.mu.Lock()
	delete(ch.subscribers, connID)
	ch.mu.Unlock()
}

// Stats summarizes one channel.
func (r *Registry) Stats(name string) (*model.ChannelStats, error) {
	if err := model.ValidateChannelName(name); err != nil {
		return nil, err
	}
	ch := r.get(name)
	if ch == nil {
		return nil, fmt.Errorf("channel %s: %w", name, model.ErrNotFound)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	st := &model.ChannelStats{
		Channel:      name,
		MessageCount: ch.history.Len(),
		Capacity:     ch.history.Cap(),
		Subscribers:  len(ch.subscribers),
	}
	if st.MessageCount > 0 {
		st.Oldest = ch.history.At(0)
		st.Newest = ch.history.At(st.MessageCount - 1)
	}
	return st, nil
}

// TotalMessages returns the number of messages retained across all channels.
func (r *Registry) TotalMessages() int {
	r.mu.RLock()
	chans := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.RUnlock()

	total := 0
	for _, ch := range chans {
		ch.mu.Lock()
		total += ch.history.Len()
		ch.mu.Unlock()
	}
	return total
}
