// Package store defines the audit sink the broker records its events to.
package store

import (
	"context"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// Store persists broker events. It is an audit trail only: the broker never
// reads its runtime state back from it.
type Store interface {
	// RecordEvent stores e and fills its ID and CreatedAt.
	RecordEvent(ctx context.Context, e *model.Event) error
	// ListEvents returns matching events in id order.
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error)

	// Lifecycle
	Close() error
}
