// Package export periodically writes JSONL snapshots of broker state to
// external destinations.
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"
)

// Destination is a snapshot target (S3, local file).
type Destination interface {
	// Write replaces the destination's snapshot with data.
	Write(ctx context.Context, data []byte) error
}

// finalExportTimeout bounds the snapshot written by Stop.
const finalExportTimeout = 10 * time.Second

// Scheduler exports snapshots on an interval. A destination is only written
// when channel or task state changed since its last successful write, so an
// idle broker does not re-upload identical snapshots.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	written [][sha256.Size]byte // per destination: digest of the last body written
	ok      []bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		written:      make([][sha256.Size]byte, len(destinations)),
		ok:           make([]bool, len(destinations)),
	}
}

// Start exports once immediately and then on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Once(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Once(ctx)
			}
		}
	}()
}

// Stop ends the loop and writes a final snapshot so destinations hold the
// state at shutdown. It is a no-op if Start was never called.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), finalExportTimeout)
	defer cancel()
	s.Once(ctx)
}

// Once builds a snapshot and writes it to every destination whose copy is
// stale. It returns the number of destinations written. Failures are logged
// and retried on the next call.
func (s *Scheduler) Once(ctx context.Context) int {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.source, &buf); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("export snapshot failed", "error", err)
		}
		return 0
	}
	data := buf.Bytes()
	digest := sha256.Sum256(snapshotBody(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	written := 0
	for i, dest := range s.destinations {
		if s.ok[i] && s.written[i] == digest {
			continue
		}
		if err := dest.Write(ctx, data); err != nil {
			s.ok[i] = false
			s.logger.Error("export destination write failed", "destination", i, "error", err)
			continue
		}
		s.ok[i], s.written[i] = true, digest
		written++
	}
	if written > 0 {
		s.logger.Debug("export completed", "destinations", written, "bytes", len(data))
	}
	return written
}

// snapshotBody strips the header line, whose timestamp changes on every
// export, leaving only the state that matters for change detection.
func snapshotBody(data []byte) []byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[i+1:]
	}
	return nil
}
