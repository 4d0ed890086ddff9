// Package events defines the broker's event topics and payloads and the
// publishers and subscribers that carry them over NATS.
package events

import (
	"context"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// Event topic constants
const (
	TopicMessageEnqueued = "ailoop.message.enqueued"
	TopicRequestResolved = "ailoop.request.resolved"

	TopicTaskCreated       = "ailoop.task.created"
	TopicTaskUpdated       = "ailoop.task.updated"
	TopicDependencyAdded   = "ailoop.dependency.added"
	TopicDependencyRemoved = "ailoop.dependency.removed"

	TopicConnectionOpened = "ailoop.connection.opened"
	TopicConnectionClosed = "ailoop.connection.closed"

	// TopicReplies is the subject prefix external responders publish on;
	// the suffix is free-form (usually the channel name).
	TopicReplies = "ailoop.replies"
)

// Event types

type MessageEnqueued struct {
	Message *model.Message `json:"message"`
}

// RequestResolved reports how a blocking request ended.
type RequestResolved struct {
	RequestID string         `json:"request_id"`
	Channel   string         `json:"channel"`
	Outcome   string         `json:"outcome"` // answered, timeout, cancelled
	Response  *model.Message `json:"response,omitempty"`
}

type TaskCreated struct {
	Task *model.Task `json:"task"`
}

type TaskUpdated struct {
	Task    *model.Task    `json:"task"`
	Changes map[string]any `json:"changes"` // field name -> new value
}

type DependencyAdded struct {
	TaskID    string               `json:"task_id"`
	DependsOn string               `json:"depends_on"`
	Type      model.DependencyType `json:"type"`
}

type DependencyRemoved struct {
	TaskID    string `json:"task_id"`
	DependsOn string `json:"depends_on"`
}

type ConnectionOpened struct {
	ConnID string `json:"conn_id"`
	Role   string `json:"role"`
}

type ConnectionClosed struct {
	ConnID string `json:"conn_id"`
	Role   string `json:"role"`
}

// Reply is the payload published on TopicReplies.> by external responders.
type Reply struct {
	RequestID    string             `json:"request_id"`
	Answer       string             `json:"answer"`
	ResponseType model.ResponseType `json:"response_type"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
