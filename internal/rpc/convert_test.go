package rpc

import (
	"testing"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

func TestStructRoundTripKeepsJSONNames(t *testing.T) {
	msg := model.NewMessage("builds", model.SenderAgent, model.Question("ship?", 30, "yes", "no"))
	msg.Metadata = map[string]any{"run": "42"}

	s, err := ToStruct(msg)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	if got := s.Fields["sender_type"].GetStringValue(); got != "AGENT" {
		t.Errorf("sender_type = %q, want AGENT", got)
	}
	content := s.Fields["content"].GetStructValue()
	if content == nil || content.Fields["type"].GetStringValue() != "question" {
		t.Fatalf("content = %v", content)
	}

	var back model.Message
	if err := FromStruct(s, &back); err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	if back.ID != msg.ID || back.Content.Text != "ship?" || len(back.Content.Choices) != 2 {
		t.Errorf("round trip lost data: %+v", back)
	}
	if !back.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp = %v, want %v", back.Timestamp, msg.Timestamp)
	}
	if back.Content.TimeoutSeconds != 30 {
		t.Errorf("timeout_seconds = %d, want 30", back.Content.TimeoutSeconds)
	}
}

func TestFromStructNil(t *testing.T) {
	var v struct {
		ID string `json:"id"`
	}
	if err := FromStruct(nil, &v); err != nil {
		t.Fatalf("FromStruct(nil): %v", err)
	}
	if v.ID != "" {
		t.Errorf("ID = %q, want empty", v.ID)
	}
}

func TestToStructNil(t *testing.T) {
	for _, v := range []any{nil, map[string]any(nil)} {
		s, err := ToStruct(v)
		if err != nil {
			t.Fatalf("ToStruct(%#v): %v", v, err)
		}
		if len(s.Fields) != 0 {
			t.Errorf("ToStruct(%#v) = %v, want empty", v, s)
		}
	}
}

func TestFullMethod(t *testing.T) {
	if got := FullMethod(MethodWatch); got != "/ailoop.v1.Broker/Watch" {
		t.Errorf("FullMethod = %q", got)
	}
}
