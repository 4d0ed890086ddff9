package taskgraph

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// Graphs holds one Graph per channel. Tasks never span channels, so tasks in
// different channels never share a lock.
type Graphs struct {
	now func() time.Time

	mu     sync.RWMutex
	graphs map[string]*Graph
	owner  map[string]string // task id -> channel
}

// New returns an empty set of graphs.
func New() *Graphs {
	return &Graphs{
		now:    func() time.Time { return time.Now().UTC() },
		graphs: make(map[string]*Graph),
		owner:  make(map[string]string),
	}
}

// Channel returns the graph for a channel, creating it on first use.
func (gs *Graphs) Channel(name string) (*Graph, error) {
	if err := model.ValidateChannelName(name); err != nil {
		return nil, err
	}
	gs.mu.RLock()
	g, ok := gs.graphs[name]
	gs.mu.RUnlock()
	if ok {
		return g, nil
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	if g, ok = gs.graphs[name]; !ok {
		g = newGraph(name, gs.now)
		gs.graphs[name] = g
	}
	return g, nil
}

// Create adds a task to a channel's graph.
func (gs *Graphs) Create(channel string, p CreateParams) (*model.Task, error) {
	g, err := gs.Channel(channel)
	if err != nil {
		return nil, err
	}
	t, err := g.Create(p)
	if err != nil {
		return nil, err
	}
	gs.mu.Lock()
	gs.owner[t.ID] = channel
	gs.mu.Unlock()
	return t, nil
}

// Find returns the graph that owns a task.
func (gs *Graphs) Find(taskID string) (*Graph, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	ch, ok := gs.owner[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	return gs.graphs[ch], nil
}

// Channels returns the sorted names of channels that have a graph.
func (gs *Graphs) Channels() []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	names := make([]string, 0, len(gs.graphs))
	for n := range gs.graphs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Snapshot returns every task in every channel, grouped by channel in name
// order. Each channel is read consistently; channels are read one at a time.
func (gs *Graphs) Snapshot() []*model.Task {
	var out []*model.Task
	for _, ch := range gs.Channels() {
		g, _ := gs.Channel(ch)
		out = append(out, g.List(model.TaskFilter{})...)
	}
	return out
}
