package reconnect

import (
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/ailoop/internal/queue"
)

// DefaultBufferSize is the number of payloads held while disconnected.
const DefaultBufferSize = 1000

// Buffer holds outbound payloads while the transport is down. Beyond its
// capacity the oldest payload is dropped and logged.
type Buffer[T any] struct {
	logger *slog.Logger

	mu      sync.Mutex
	ring    *queue.Ring[T]
	dropped int
	removed uint64 // payloads taken off the front, sent or evicted
}

// NewBuffer returns a buffer holding at most size payloads. size <= 0 uses
// DefaultBufferSize.
func NewBuffer[T any](size int, logger *slog.Logger) *Buffer[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer[T]{logger: logger, ring: queue.New[T](size)}
}

// Push appends v, dropping the oldest payload when full.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, evicted := b.ring.Push(v); evicted {
		b.dropped++
		b.removed++
		b.logger.Warn("reconnect buffer full, dropped oldest payload",
			"capacity", b.ring.Cap(), "dropped_total", b.dropped)
	}
}

// Len returns the number of buffered payloads.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Len()
}

// Dropped returns how many payloads were discarded for lack of space.
func (b *Buffer[T]) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Drain replays buffered payloads oldest first. It stops at the first send
// error, leaving that payload and everything after it buffered, and returns
// the number sent. The lock is not held during send, so Push never waits on
// the transport. Drain must not run concurrently with itself.
func (b *Buffer[T]) Drain(send func(T) error) (int, error) {
	sent := 0
	for {
		b.mu.Lock()
		v, ok := b.ring.Peek()
		head := b.removed
		b.mu.Unlock()
		if !ok {
			return sent, nil
		}

		if err := send(v); err != nil {
			return sent, err
		}
		sent++

		b.mu.Lock()
		// A Push that overflowed during send already evicted v.
		if b.removed == head {
			b.ring.Pop()
			b.removed++
		}
		b.mu.Unlock()
	}
}
