package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/events"
	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/taskgraph"
)

func TestMatchTopicPattern(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"ailoop.task.created", "ailoop.task.created", true},
		{"ailoop.task.*", "ailoop.task.created", true},
		{"ailoop.task.*", "ailoop.task", false},
		{"ailoop.*.created", "ailoop.task.created", true},
		{"ailoop.>", "ailoop.task.created", true},
		{"ailoop.>", "ailoop", false},
		{"ailoop.task", "ailoop.task.created", false},
		{"ailoop.message.*", "ailoop.task.created", false},
	}
	for _, tt := range tests {
		if got := matchTopicPattern(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("matchTopicPattern(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestSSEHub_ReplayAfterLastID(t *testing.T) {
	h := newSSEHub()
	h.broadcast("ailoop.message.enqueued", "a", []byte(`1`))
	h.broadcast("ailoop.task.created", "a", []byte(`2`))
	h.broadcast("ailoop.message.enqueued", "b", []byte(`3`))

	c, backlog := h.subscribe([]string{"ailoop.message.*"}, "", 1)
	defer h.unsubscribe(c)
	if len(backlog) != 1 || backlog[0].ID != 3 {
		t.Errorf("backlog = %+v, want event 3 only", backlog)
	}

	c2, backlog := h.subscribe(nil, "a", 0)
	defer h.unsubscribe(c2)
	if len(backlog) != 0 {
		t.Errorf("backlog without Last-Event-ID = %d events, want 0", len(backlog))
	}
	if h.clientCount() != 2 {
		t.Errorf("clientCount = %d, want 2", h.clientCount())
	}
}

// sseReader parses server-sent events from a stream.
type sseReader struct {
	scanner *bufio.Scanner
}

type sseEventParsed struct {
	ID    uint64
	Event string
	Data  string
}

func (r *sseReader) next() (*sseEventParsed, error) {
	var evt sseEventParsed
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if evt.Event != "" {
				return &evt, nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "id:"):
			evt.ID, _ = strconv.ParseUint(line[3:], 10, 64)
		case strings.HasPrefix(line, "event:"):
			evt.Event = line[6:]
		case strings.HasPrefix(line, "data:"):
			evt.Data = line[5:]
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, context.Canceled
}

// startSSEClient opens the event stream and returns a reader over it.
func startSSEClient(t *testing.T, url string, lastID uint64) *sseReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(lastID, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("SSE connect: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("SSE status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return &sseReader{scanner: bufio.NewScanner(resp.Body)}
}

// waitForEvent reads events until one with the given topic arrives.
func waitForEvent(t *testing.T, r *sseReader, topic string) *sseEventParsed {
	t.Helper()
	found := make(chan *sseEventParsed, 1)
	go func() {
		for {
			evt, err := r.next()
			if err != nil {
				close(found)
				return
			}
			if evt.Event == topic {
				found <- evt
				return
			}
		}
	}()
	select {
	case evt, ok := <-found:
		if !ok {
			t.Fatalf("stream ended before %s", topic)
		}
		return evt
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", topic)
		return nil
	}
}

func waitForSSEClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.sseHub.clientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("SSE clients = %d, want %d", s.sseHub.clientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSSE_StreamFiltersByChannelAndTopic(t *testing.T) {
	s, url := startHTTPServer(t)
	r := startSSEClient(t, url+"/api/v1/events/stream?topics=ailoop.message.*&channel=builds", 0)
	waitForSSEClients(t, s, 1)

	s.Send(t.Context(), "other", model.SenderAgent, model.Notification("skip", ""), nil)
	s.CreateTask(t.Context(), "other", taskgraph.CreateParams{Title: "skip too"})
	s.Send(t.Context(), "builds", model.SenderAgent, model.Notification("wanted", ""), nil)

	evt := waitForEvent(t, r, events.TopicMessageEnqueued)
	var payload events.MessageEnqueued
	if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Message.Channel != "builds" || payload.Message.Content.Text != "wanted" {
		t.Errorf("payload = %+v", payload.Message)
	}
}

func TestSSE_LastEventIDReplay(t *testing.T) {
	s, url := startHTTPServer(t)
	for _, text := range []string{"one", "two", "three"} {
		s.Send(t.Context(), "builds", model.SenderAgent, model.Notification(text, ""), nil)
	}

	r := startSSEClient(t, url+"/api/v1/events/stream?topics=ailoop.message.>", 1)
	var texts []string
	for range 2 {
		evt := waitForEvent(t, r, events.TopicMessageEnqueued)
		var payload events.MessageEnqueued
		if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		texts = append(texts, payload.Message.Content.Text)
	}
	if strings.Join(texts, ",") != "two,three" {
		t.Errorf("replayed %v, want [two three]", texts)
	}
}
