package model

import (
	"strings"
	"testing"
)

// validMessage returns a Message that passes all validation rules.
func validMessage() *Message {
	return NewMessage("public", SenderAgent, Question("Deploy to prod?", 30, "yes", "no"))
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateChannelName(t *testing.T) {
	for _, tc := range []struct {
		name string
		ok   bool
	}{
		{"public", true},
		{"a", true},
		{"0day", true},
		{"build-42_ci", true},
		{strings.Repeat("a", 64), true},
		{"", false},
		{strings.Repeat("a", 65), false},
		{"Public", false},
		{"-leading", false},
		{"_leading", false},
		{"has space", false},
		{"dot.ted", false},
		{"system", false},
		{"admin", false},
		{"internal", false},
		{"reserved", false},
		{"ailoop", false},
	} {
		err := ValidateChannelName(tc.name)
		if tc.ok && err != nil {
			t.Errorf("ValidateChannelName(%q) = %v, want nil", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateChannelName(%q) = nil, want error", tc.name)
		}
	}
}

func TestValidateChannelName_NoNormalization(t *testing.T) {
	errs := fieldErrors(t, ValidateChannelName("MyChannel"))
	if !hasFieldError(errs, "channel") {
		t.Fatalf("expected error on field 'channel', got %v", errs)
	}
}

func TestValidateMessage_Valid(t *testing.T) {
	if err := ValidateMessage(validMessage()); err != nil {
		t.Fatalf("expected valid message, got: %v", err)
	}
}

func TestValidateMessage_BadChannel(t *testing.T) {
	m := validMessage()
	m.Channel = "Bad Channel"
	if !hasFieldError(fieldErrors(t, ValidateMessage(m)), "channel") {
		t.Error("expected error on field 'channel'")
	}
}

func TestValidateMessage_UnknownSender(t *testing.T) {
	m := validMessage()
	m.SenderType = "ROBOT"
	if !hasFieldError(fieldErrors(t, ValidateMessage(m)), "sender_type") {
		t.Error("expected error on field 'sender_type'")
	}
}

func TestValidateMessage_UnknownContentType(t *testing.T) {
	m := validMessage()
	m.Content.Type = "telepathy"
	if !hasFieldError(fieldErrors(t, ValidateMessage(m)), "content.type") {
		t.Error("expected error on field 'content.type'")
	}
}

func TestValidateMessage_RequiredFields(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content Content
		field   string
	}{
		{"question text", Content{Type: ContentQuestion}, "content.text"},
		{"authorization action", Content{Type: ContentAuthorization}, "content.action"},
		{"notification text", Content{Type: ContentNotification}, "content.text"},
		{"navigate url", Content{Type: ContentNavigate}, "content.url"},
		{"notification priority", Content{Type: ContentNotification, Text: "x", Priority: "meh"}, "content.priority"},
		{"task update state", Content{Type: ContentTaskUpdate, TaskID: "t1", State: "paused"}, "content.state"},
		{"dependency type", Content{Type: ContentTaskDependencyAdd, TaskID: "a", DependsOn: "b", DependencyType: "likes"}, "content.dependency_type"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMessage("public", SenderAgent, tc.content)
			if !hasFieldError(fieldErrors(t, ValidateMessage(m)), tc.field) {
				t.Errorf("expected error on field %q", tc.field)
			}
		})
	}
}

func TestValidateMessage_ResponseNeedsCorrelation(t *testing.T) {
	m := NewMessage("public", SenderHuman, Content{Type: ContentResponse, ResponseType: ResponseText, Answer: "ok"})
	if !hasFieldError(fieldErrors(t, ValidateMessage(m)), "correlation_id") {
		t.Error("expected error on field 'correlation_id'")
	}

	m = NewResponse("public", SenderHuman, "req-1", "ok", ResponseText)
	if err := ValidateMessage(m); err != nil {
		t.Errorf("expected valid response, got: %v", err)
	}
}

func TestValidateMessage_ContentTooLarge(t *testing.T) {
	m := NewMessage("public", SenderAgent, Notification(strings.Repeat("x", MaxContentSize), PriorityNormal))
	if !hasFieldError(fieldErrors(t, ValidateMessage(m)), "content") {
		t.Error("expected error on field 'content'")
	}
}

func TestValidateMessage_MetadataTooLarge(t *testing.T) {
	m := validMessage()
	m.Metadata = map[string]any{"blob": strings.Repeat("y", MaxMetadataSize)}
	if !hasFieldError(fieldErrors(t, ValidateMessage(m)), "metadata") {
		t.Error("expected error on field 'metadata'")
	}

	m.Metadata = map[string]any{"agent": "claude", "step": 3}
	if err := ValidateMessage(m); err != nil {
		t.Errorf("expected small metadata to pass, got: %v", err)
	}
}

func TestValidateTaskTitle(t *testing.T) {
	if err := ValidateTaskTitle("  "); err == nil {
		t.Error("expected error for blank title")
	}
	if err := ValidateTaskTitle(strings.Repeat("t", MaxTitleLength+1)); err == nil {
		t.Error("expected error for overlong title")
	}
	if err := ValidateTaskTitle("Write tests"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{
		Errors: []FieldError{
			{Field: "channel", Message: "is required"},
			{Field: "content.text", Message: "is required"},
		},
	}
	got := ve.Error()
	want := "validation failed: channel: is required; content.text: is required"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Error("HasErrors() should be false for empty Errors slice")
	}
	ve.Errors = append(ve.Errors, FieldError{Field: "x", Message: "y"})
	if !ve.HasErrors() {
		t.Error("HasErrors() should be true when Errors is non-empty")
	}
}
