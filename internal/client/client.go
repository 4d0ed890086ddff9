// Package client provides a transport-agnostic interface for the ailoop
// broker, with HTTP/JSON and gRPC implementations, plus the WebSocket
// viewer and forwarder used by long-lived CLI commands.
package client

import (
	"context"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// BrokerClient is the interface the messaging CLI commands use to talk to
// the broker. It is implemented by HTTPClient (default) and GRPCClient.
type BrokerClient interface {
	// Messaging
	SendMessage(ctx context.Context, req *SendMessageRequest) (*model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	Respond(ctx context.Context, requestID string, req *RespondRequest) (*model.Message, error)

	// Request posts a question, authorization or navigate message and blocks
	// until it is answered or times out.
	Request(ctx context.Context, req *RequestRequest) (*RequestResult, error)

	// Watch streams messages from channels (empty = all) to fn until ctx is
	// done or fn returns an error.
	Watch(ctx context.Context, channels []string, fn func(*model.Message) error) error

	// Health
	Health(ctx context.Context) (*HealthResponse, error)

	// Lifecycle
	Close() error
}

// SendMessageRequest holds parameters for posting a message.
type SendMessageRequest struct {
	Channel       string           `json:"channel,omitempty"`
	SenderType    model.SenderType `json:"sender_type,omitempty"`
	Content       model.Content    `json:"content"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// RespondRequest holds the answer to a pending request.
type RespondRequest struct {
	Answer       string             `json:"answer,omitempty"`
	ResponseType model.ResponseType `json:"response_type,omitempty"`
	SenderType   model.SenderType   `json:"sender_type,omitempty"`
}

// RequestRequest holds parameters for a blocking request.
type RequestRequest struct {
	Channel        string         `json:"channel,omitempty"`
	Content        model.Content  `json:"content"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Request outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeTimeout  = "timeout"
	OutcomeDenied   = "denied"
)

// RequestResult is the outcome of a blocking request. Response is nil when
// a question or navigation timed out.
type RequestResult struct {
	Request  *model.Message `json:"request"`
	Response *model.Message `json:"response,omitempty"`
	Outcome  string         `json:"outcome"`
}

// Approved reports whether an authorization request was approved.
func (r *RequestResult) Approved() bool {
	return r.Response != nil && r.Response.Content.ResponseType == model.ResponseAuthorizationApproved
}

// HealthResponse is the broker health payload.
type HealthResponse struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	ActiveConnections int     `json:"activeConnections"`
	QueueSize         int     `json:"queueSize"`
	ActiveChannels    int     `json:"activeChannels"`
	PendingRequests   int     `json:"pendingRequests"`
}

// CreateTaskRequest holds parameters for creating a task.
type CreateTaskRequest struct {
	Channel     string         `json:"channel,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateTaskRequest holds optional parameters for updating a task.
// Nil pointer fields mean "don't change".
type UpdateTaskRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Assignee    *string          `json:"assignee,omitempty"`
	State       *model.TaskState `json:"state,omitempty"`
}

// ListTasksRequest holds parameters for listing tasks.
type ListTasksRequest struct {
	Channel  string   `json:"channel,omitempty"`
	State    []string `json:"state,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// ListTasksResponse is the response from the task listing endpoints.
type ListTasksResponse struct {
	Tasks []*model.Task `json:"tasks"`
	Total int           `json:"total"`
}

// ListEventsRequest holds parameters for reading the audit log.
type ListEventsRequest struct {
	Channel   string
	Topic     string
	SubjectID string
	AfterID   int64
	Limit     int
}
