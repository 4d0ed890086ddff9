package model

import (
	"time"

	"github.com/google/uuid"
)

// SenderType identifies who produced a message.
type SenderType string

const (
	SenderAgent  SenderType = "AGENT"
	SenderHuman  SenderType = "HUMAN"
	SenderSystem SenderType = "SYSTEM"
)

// IsValid reports whether s is a known sender type.
func (s SenderType) IsValid() bool {
	switch s {
	case SenderAgent, SenderHuman, SenderSystem:
		return true
	}
	return false
}

// ContentType is the discriminator of a message's content.
type ContentType string

const (
	ContentQuestion             ContentType = "question"
	ContentAuthorization        ContentType = "authorization"
	ContentNotification         ContentType = "notification"
	ContentResponse             ContentType = "response"
	ContentNavigate             ContentType = "navigate"
	ContentTaskCreate           ContentType = "task_create"
	ContentTaskUpdate           ContentType = "task_update"
	ContentTaskDependencyAdd    ContentType = "task_dependency_add"
	ContentTaskDependencyRemove ContentType = "task_dependency_remove"
)

// IsValid reports whether c is a known content type.
func (c ContentType) IsValid() bool {
	switch c {
	case ContentQuestion, ContentAuthorization, ContentNotification, ContentResponse,
		ContentNavigate, ContentTaskCreate, ContentTaskUpdate,
		ContentTaskDependencyAdd, ContentTaskDependencyRemove:
		return true
	}
	return false
}

// IsRequest reports whether messages of this type wait for a correlated response.
func (c ContentType) IsRequest() bool {
	return c == ContentQuestion || c == ContentAuthorization || c == ContentNavigate
}

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ResponseType classifies a response message.
type ResponseType string

const (
	ResponseText                  ResponseType = "text"
	ResponseAuthorizationApproved ResponseType = "authorization_approved"
	ResponseAuthorizationDenied   ResponseType = "authorization_denied"
	ResponseTimeout               ResponseType = "timeout"
	ResponseCancelled             ResponseType = "cancelled"
)

// IsValid reports whether r is a known response type.
func (r ResponseType) IsValid() bool {
	switch r {
	case ResponseText, ResponseAuthorizationApproved, ResponseAuthorizationDenied,
		ResponseTimeout, ResponseCancelled:
		return true
	}
	return false
}

// Content is the tagged payload of a message. Type selects which of the
// remaining fields are meaningful; the JSON form is flat with a "type" key.
type Content struct {
	Type ContentType `json:"type"`

	// question, notification
	Text string `json:"text,omitempty"`
	// question, authorization
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Choices        []string `json:"choices,omitempty"`

	// authorization
	Action  string `json:"action,omitempty"`
	Context string `json:"context,omitempty"`

	// notification
	Priority Priority `json:"priority,omitempty"`

	// response
	Answer       string       `json:"answer,omitempty"`
	ResponseType ResponseType `json:"response_type,omitempty"`

	// navigate
	URL string `json:"url,omitempty"`

	// task lifecycle
	Task           *Task          `json:"task,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	State          TaskState      `json:"state,omitempty"`
	DependsOn      string         `json:"depends_on,omitempty"`
	DependencyType DependencyType `json:"dependency_type,omitempty"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
	Timestamp      *time.Time     `json:"timestamp,omitempty"`
}

// Message is the unit of exchange on a channel. Messages are immutable once
// enqueued.
type Message struct {
	ID            string         `json:"id"`
	Channel       string         `json:"channel"`
	SenderType    SenderType     `json:"sender_type"`
	Content       Content        `json:"content"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewMessage returns a message with a fresh id and the current UTC time.
func NewMessage(channel string, sender SenderType, content Content) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Channel:    channel,
		SenderType: sender,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
}

// NewResponse returns a response to the request identified by correlationID.
func NewResponse(channel string, sender SenderType, correlationID, answer string, rt ResponseType) *Message {
	m := NewMessage(channel, sender, Content{
		Type:         ContentResponse,
		Answer:       answer,
		ResponseType: rt,
	})
	m.CorrelationID = correlationID
	return m
}

// Question builds question content.
func Question(text string, timeoutSeconds int, choices ...string) Content {
	return Content{Type: ContentQuestion, Text: text, TimeoutSeconds: timeoutSeconds, Choices: choices}
}

// Authorization builds authorization content.
func Authorization(action, context string, timeoutSeconds int) Content {
	return Content{Type: ContentAuthorization, Action: action, Context: context, TimeoutSeconds: timeoutSeconds}
}

// Notification builds notification content.
func Notification(text string, p Priority) Content {
	return Content{Type: ContentNotification, Text: text, Priority: p}
}

// Navigate builds navigate content.
func Navigate(url string) Content {
	return Content{Type: ContentNavigate, URL: url}
}

// IsResponse reports whether m answers another message.
func (m *Message) IsResponse() bool {
	return m.Content.Type == ContentResponse && m.CorrelationID != ""
}

// Approved reports whether m is a response approving an authorization.
func (m *Message) Approved() bool {
	return m.Content.Type == ContentResponse && m.Content.ResponseType == ResponseAuthorizationApproved
}
