package store

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/queue"
)

// DefaultMemoryEvents is the number of events a Memory store retains.
const DefaultMemoryEvents = 10000

// Memory is a bounded in-process Store used when no database is configured.
// The oldest events are discarded once it is full.
type Memory struct {
	mu     sync.Mutex
	events *queue.Ring[*model.Event]
	nextID int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns a store retaining at most size events (<= 0 uses
// DefaultMemoryEvents).
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemoryEvents
	}
	return &Memory{events: queue.New[*model.Event](size)}
}

func (m *Memory) RecordEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := *e
	m.events.Push(&stored)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, f model.EventFilter) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for i := range m.events.Len() {
		e := m.events.At(i)
		if !f.Matches(e) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
