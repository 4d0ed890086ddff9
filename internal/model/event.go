package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Event is an audit record of something the broker did, mirroring what is
// published to NATS.
type Event struct {
	ID        int64           `json:"id"`
	Topic     string          `json:"topic"`
	Channel   string          `json:"channel"`
	SubjectID string          `json:"subject_id,omitempty"` // message or task id
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventFilter selects audit events. Zero fields match everything.
type EventFilter struct {
	Channel   string `json:"channel,omitempty"`
	Topic     string `json:"topic,omitempty"` // prefix match
	SubjectID string `json:"subject_id,omitempty"`
	AfterID   int64  `json:"after_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f EventFilter) Matches(e *Event) bool {
	if f.Channel != "" && e.Channel != f.Channel {
		return false
	}
	if f.Topic != "" && !strings.HasPrefix(e.Topic, f.Topic) {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	return e.ID > f.AfterID
}
