package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxChannelNameLength is the longest accepted channel name.
	MaxChannelNameLength = 64
	// MaxContentSize bounds the JSON encoding of a message's content.
	MaxContentSize = 10 * 1024
	// MaxMetadataSize bounds the JSON encoding of a message's metadata.
	MaxMetadataSize = 1024
	// MaxTitleLength bounds a task title, in runes.
	MaxTitleLength = 500
)

var channelNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

var reservedChannelNames = []string{"system", "admin", "internal", "reserved", "ailoop"}

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// err returns e as an error, or nil when there is nothing to report.
func (e *ValidationError) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// invalid builds a single-field validation error.
func invalid(field, format string, args ...any) error {
	ve := &ValidationError{}
	ve.add(field, format, args...)
	return ve
}

// ValidateChannelName checks a channel name. Names are never normalized:
// "Public" is rejected rather than lowercased.
func ValidateChannelName(name string) error {
	switch {
	case name == "":
		return invalid("channel", "is required")
	case len(name) > MaxChannelNameLength:
		return invalid("channel", "must be %d characters or fewer, got %d", MaxChannelNameLength, len(name))
	case !channelNamePattern.MatchString(name):
		return invalid("channel", "%q must start with a lowercase letter or digit and contain only lowercase letters, digits, '-' or '_'", name)
	}
	for _, r := range reservedChannelNames {
		if strings.EqualFold(name, r) {
			return invalid("channel", "%q is reserved", name)
		}
	}
	return nil
}

// ValidateMessage checks a message for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the message is valid.
func ValidateMessage(m *Message) error {
	var ve ValidationError

	if err := ValidateChannelName(m.Channel); err != nil {
		ve.Errors = append(ve.Errors, err.(*ValidationError).Errors...)
	}
	if !m.SenderType.IsValid() {
		ve.add("sender_type", "invalid value %q", m.SenderType)
	}

	c := &m.Content
	switch c.Type {
	case ContentQuestion:
		if strings.TrimSpace(c.Text) == "" {
			ve.add("content.text", "is required")
		}
	case ContentAuthorization:
		if strings.TrimSpace(c.Action) == "" {
			ve.add("content.action", "is required")
		}
	case ContentNotification:
		if strings.TrimSpace(c.Text) == "" {
			ve.add("content.text", "is required")
		}
		if c.Priority != "" && !c.Priority.IsValid() {
			ve.add("content.priority", "invalid value %q", c.Priority)
		}
	case ContentResponse:
		if m.CorrelationID == "" {
			ve.add("correlation_id", "is required for responses")
		}
		if !c.ResponseType.IsValid() {
			ve.add("content.response_type", "invalid value %q", c.ResponseType)
		}
	case ContentNavigate:
		if strings.TrimSpace(c.URL) == "" {
			ve.add("content.url", "is required")
		}
	case ContentTaskCreate:
		if c.Task == nil {
			ve.add("content.task", "is required")
		}
	case ContentTaskUpdate:
		if c.TaskID == "" {
			ve.add("content.task_id", "is required")
		}
		if !c.State.IsValid() {
			ve.add("content.state", "invalid value %q", c.State)
		}
	case ContentTaskDependencyAdd, ContentTaskDependencyRemove:
		if c.TaskID == "" || c.DependsOn == "" {
			ve.add("content", "task_id and depends_on are required")
		}
		if c.Type == ContentTaskDependencyAdd && !c.DependencyType.IsValid() {
			ve.add("content.dependency_type", "invalid value %q", c.DependencyType)
		}
	default:
		ve.add("content.type", "invalid value %q", c.Type)
	}
	if c.TimeoutSeconds < 0 {
		ve.add("content.timeout_seconds", "must not be negative")
	}

	if data, err := json.Marshal(c); err != nil {
		ve.add("content", "cannot be encoded: %v", err)
	} else if len(data) > MaxContentSize {
		ve.add("content", "must be %d bytes or fewer, got %d", MaxContentSize, len(data))
	}
	if len(m.Metadata) > 0 {
		if data, err := json.Marshal(m.Metadata); err != nil {
			ve.add("metadata", "cannot be encoded: %v", err)
		} else if len(data) > MaxMetadataSize {
			ve.add("metadata", "must be %d bytes or fewer, got %d", MaxMetadataSize, len(data))
		}
	}

	return ve.err()
}

// ValidateTaskTitle checks a task title.
func ValidateTaskTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalid("title", "is required")
	}
	if len([]rune(title)) > MaxTitleLength {
		return invalid("title", "must be %d characters or fewer", MaxTitleLength)
	}
	return nil
}

// ValidateTaskState checks a requested task state.
func ValidateTaskState(s TaskState) error {
	if !s.IsValid() {
		return invalid("state", "invalid value %q", s)
	}
	return nil
}

// ValidateDependencyType checks a requested dependency type.
func ValidateDependencyType(d DependencyType) error {
	if !d.IsValid() {
		return invalid("dependency_type", "invalid value %q (must be blocks, parent or related)", d)
	}
	return nil
}
