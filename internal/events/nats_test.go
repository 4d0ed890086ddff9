package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
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

func connectPair(t *testing.T) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return pub, sub
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
	}
	return nil
}

func TestNATSPublisher_EventRoundTrip(t *testing.T) {
	pub, sub := connectPair(t)
	ch, cancel, err := sub.Subscribe("ailoop.task.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	task := &model.Task{ID: "t1", Channel: "build", Title: "compile", State: model.TaskPending}
	if err := pub.Publish(context.Background(), TopicTaskCreated, TaskCreated{Task: task}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Outside the subscribed subtree.
	if err := pub.Publish(context.Background(), TopicMessageEnqueued, MessageEnqueued{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.Flush()

	var got TaskCreated
	if err := json.Unmarshal(receive(t, ch), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Task == nil || got.Task.ID != "t1" || got.Task.Title != "compile" {
		t.Errorf("got %+v", got.Task)
	}
	select {
	case data := <-ch:
		t.Errorf("unexpected payload %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSPublisher_PublishReplyUsesChannelSubject(t *testing.T) {
	pub, sub := connectPair(t)
	ch, cancel, err := sub.Subscribe(TopicReplies + ".ops")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	reply := Reply{RequestID: "req-1", ResponseType: model.ResponseAuthorizationApproved}
	if err := pub.PublishReply(context.Background(), "ops", reply); err != nil {
		t.Fatalf("PublishReply: %v", err)
	}
	pub.Flush()

	var got Reply
	if err := json.Unmarshal(receive(t, ch), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got != reply {
		t.Errorf("got %+v, want %+v", got, reply)
	}
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	pub, _ := connectPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicTaskCreated, TaskCreated{}); err != context.Canceled {
		t.Errorf("Publish() = %v, want context.Canceled", err)
	}
}

func TestNATSSubscriber_WildcardReceivesEveryTopic(t *testing.T) {
	pub, sub := connectPair(t)
	ch, cancel, err := sub.Subscribe("ailoop.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	topics := []string{TopicTaskCreated, TopicDependencyAdded, TopicRequestResolved}
	for _, topic := range topics {
		if err := pub.Publish(context.Background(), topic, map[string]string{"topic": topic}); err != nil {
			t.Fatalf("publishing to %s: %v", topic, err)
		}
	}
	pub.Flush()

	// Single publisher, single subscriber: order is preserved.
	for _, want := range topics {
		var got map[string]string
		if err := json.Unmarshal(receive(t, ch), &got); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if got["topic"] != want {
			t.Errorf("got %q, want %q", got["topic"], want)
		}
	}
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	pub, sub := connectPair(t)
	ch, cancel, err := sub.Subscribe("ailoop.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = pub.Publish(context.Background(), TopicTaskCreated, TaskCreated{})
		}
		pub.Flush()
	}()

	cancel()
	cancel() // idempotent
	<-done

	// Anything already handed over may still be read; the channel must
	// then close.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestNATSSubscriber_ExtraOptions(t *testing.T) {
	url := startTestNATS(t)
	sub, err := NewNATSSubscriber(url, nats.Name("custom-name"), nats.ReconnectHandler(func(*nats.Conn) {}))
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()
	if !sub.conn.IsConnected() {
		t.Fatal("expected subscriber to be connected")
	}
	if got := sub.conn.Opts.Name; got != "custom-name" {
		t.Errorf("Name = %q, want options applied after defaults", got)
	}
}

func TestNATSSubscriber_ImplementsSubscriber(t *testing.T) {
	var _ Subscriber = (*NATSSubscriber)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
}
