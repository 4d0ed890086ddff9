package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/alfredjeanlab/ailoop/internal/events"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestConsumeReplies_AnswersPendingRequest(t *testing.T) {
	url := startTestNATS(t)
	sub, err := events.NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	pub, err := events.NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })

	s := newTestServer(t)
	ctx, cancel := context.WithCancel(t.Context())
	consumed := make(chan error, 1)
	go func() { consumed <- s.ConsumeReplies(ctx, sub) }()

	answered := make(chan *model.Message, 1)
	go func() {
		resp, err := s.Ask(ctx, "chat", "Which region?", 10*time.Second)
		if err != nil {
			t.Errorf("Ask: %v", err)
		}
		answered <- resp
	}()
	req := pendingRequest(t, s, "chat")

	// Publish until the consumer's subscription is live; the first
	// publishes may race it.
	reply := events.Reply{RequestID: req.ID, Answer: "eu-west-1"}
	deadline := time.After(5 * time.Second)
	var resp *model.Message
	for resp == nil {
		if err := pub.PublishReply(ctx, "chat", reply); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case resp = <-answered:
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("reply never applied")
		}
	}
	if resp.Content.Answer != "eu-west-1" || resp.SenderType != model.SenderHuman {
		t.Errorf("response = %+v", resp)
	}

	cancel()
	select {
	case err := <-consumed:
		if err != nil {
			t.Errorf("ConsumeReplies = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("ConsumeReplies did not return after cancel")
	}
}

func TestHandleReply_IgnoresBadPayloads(t *testing.T) {
	s := newTestServer(t)
	s.handleReply(t.Context(), []byte("{not json"))

	data, _ := json.Marshal(events.Reply{Answer: "orphan"})
	s.handleReply(t.Context(), data)

	data, _ = json.Marshal(events.Reply{RequestID: "unknown", Answer: "x"})
	s.handleReply(t.Context(), data)

	if got := s.registry.TotalMessages(); got != 0 {
		t.Errorf("TotalMessages = %d, want 0", got)
	}
}
