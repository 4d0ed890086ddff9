package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

func record(t *testing.T, s Store, topic, channel, subject string) *model.Event {
	t.Helper()
	e := &model.Event{Topic: topic, Channel: channel, SubjectID: subject, Payload: json.RawMessage(`{}`)}
	if err := s.RecordEvent(context.Background(), e); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	return e
}

func TestMemory_RecordAndList(t *testing.T) {
	s := NewMemory(0)
	a := record(t, s, "ailoop.task.created", "dev", "t-1")
	record(t, s, "ailoop.message.enqueued", "ops", "m-1")
	record(t, s, "ailoop.task.updated", "dev", "t-1")

	if a.ID != 1 || a.CreatedAt.IsZero() {
		t.Errorf("RecordEvent did not fill id/created_at: %+v", a)
	}

	for _, tc := range []struct {
		name   string
		filter model.EventFilter
		want   int
	}{
		{"all", model.EventFilter{}, 3},
		{"by channel", model.EventFilter{Channel: "dev"}, 2},
		{"by topic prefix", model.EventFilter{Topic: "ailoop.task."}, 2},
		{"by subject", model.EventFilter{SubjectID: "m-1"}, 1},
		{"after id", model.EventFilter{AfterID: 2}, 1},
		{"limit", model.EventFilter{Limit: 1}, 1},
	} {
		got, err := s.ListEvents(context.Background(), tc.filter)
		if err != nil {
			t.Fatalf("%s: ListEvents: %v", tc.name, err)
		}
		if len(got) != tc.want {
			t.Errorf("%s: got %d events, want %d", tc.name, len(got), tc.want)
		}
	}
}

func TestMemory_Bounded(t *testing.T) {
	s := NewMemory(2)
	for range 3 {
		record(t, s, "ailoop.task.created", "dev", "")
	}
	got, _ := s.ListEvents(context.Background(), model.EventFilter{})
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("expected the two newest events, got %+v", got)
	}
}
