package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// dialWS connects to the broker's WebSocket endpoint and returns the
// connection along with the initial connected frame.
func dialWS(t *testing.T, baseURL, query string) (*websocket.Conn, *model.Frame) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?" + query
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	f := readFrame(t, ws)
	if f.Type != model.FrameConnected {
		t.Fatalf("first frame = %+v, want connected", f)
	}
	return ws, f
}

func readFrame(t *testing.T, ws *websocket.Conn) *model.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f model.Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return &f
}

// readFrameOfType skips frames until one of type ft arrives.
func readFrameOfType(t *testing.T, ws *websocket.Conn, ft model.FrameType) *model.Frame {
	t.Helper()
	for {
		if f := readFrame(t, ws); f.Type == ft {
			return f
		}
	}
}

func writeFrame(t *testing.T, ws *websocket.Conn, f *model.Frame) {
	t.Helper()
	if err := ws.WriteJSON(f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWS_ConnectedFrame(t *testing.T) {
	_, url := startHTTPServer(t)
	_, f := dialWS(t, url, "role=viewer&channels=alpha,beta")
	if f.ClientID == "" || f.Role != "viewer" || !slices.Equal(f.Channels, []string{"alpha", "beta"}) {
		t.Errorf("connected frame = %+v", f)
	}
}

func TestWS_RejectsBadHandshake(t *testing.T) {
	_, url := startHTTPServer(t)
	for _, q := range []string{"role=admin", "role=viewer&channels=Bad!"} {
		resp, err := http.Get(url + "/ws?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestWS_SubscribeAndDeliver(t *testing.T) {
	s, url := startHTTPServer(t)
	ws, _ := dialWS(t, url, "role=viewer")

	writeFrame(t, ws, &model.Frame{Type: model.FrameSubscribe, Channels: []string{"builds"}})
	f := readFrame(t, ws)
	if f.Type != model.FrameChannels || !slices.Equal(f.Channels, []string{"builds"}) {
		t.Fatalf("subscribe reply = %+v", f)
	}

	s.Send(t.Context(), "other", model.SenderAgent, model.Notification("ignored", ""), nil)
	s.Send(t.Context(), "builds", model.SenderAgent, model.Notification("green", ""), nil)

	f = readFrameOfType(t, ws, model.FrameMessage)
	if f.Message.Channel != "builds" || f.Message.Content.Text != "green" {
		t.Errorf("delivered = %+v", f.Message)
	}

	writeFrame(t, ws, &model.Frame{Type: model.FrameSubscribe})
	if f := readFrame(t, ws); !slices.Equal(f.Channels, []string{"*"}) {
		t.Errorf("all-channels reply = %+v", f)
	}
	writeFrame(t, ws, &model.Frame{Type: model.FrameUnsubscribe})
	if f := readFrame(t, ws); f.Type != model.FrameChannels || len(f.Channels) != 0 {
		t.Errorf("unsubscribe reply = %+v", f)
	}
}

func TestWS_ConnectedPrecedesPreSubscribedTraffic(t *testing.T) {
	s, url := startHTTPServer(t)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				s.Send(context.Background(), "busy", model.SenderAgent, model.Notification("tick", ""), nil)
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	for range 20 {
		// dialWS fails the test unless connected is the first frame.
		ws, _ := dialWS(t, url, "role=viewer&channels=busy")
		ws.Close()
	}
}

func TestWS_EmptySubscriptionReplyListsNoChannels(t *testing.T) {
	_, url := startHTTPServer(t)
	ws, _ := dialWS(t, url, "role=viewer&channels=alpha")

	writeFrame(t, ws, &model.Frame{Type: model.FrameUnsubscribe, Channels: []string{"alpha"}})
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := `{"type":"channels","channels":[]}`; strings.TrimSpace(string(raw)) != want {
		t.Errorf("unsubscribe reply = %s, want %s", raw, want)
	}
}

func TestWS_ControlFrames(t *testing.T) {
	s, url := startHTTPServer(t)
	s.Send(t.Context(), "alpha", model.SenderAgent, model.Notification("x", ""), nil)
	ws, _ := dialWS(t, url, "role=viewer")

	writeFrame(t, ws, &model.Frame{Type: model.FramePing})
	if f := readFrame(t, ws); f.Type != model.FramePong {
		t.Errorf("ping reply = %+v", f)
	}

	writeFrame(t, ws, &model.Frame{Type: model.FrameListChannels})
	if f := readFrame(t, ws); f.Type != model.FrameChannels || !slices.Contains(f.Channels, "alpha") {
		t.Errorf("list_channels reply = %+v", f)
	}

	writeFrame(t, ws, &model.Frame{Type: "bogus"})
	if f := readFrame(t, ws); f.Type != model.FrameError {
		t.Errorf("unknown frame reply = %+v", f)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Type != model.FrameError || !strings.Contains(f.Error, "invalid frame") {
		t.Errorf("bad json reply = %+v", f)
	}
}

func TestWS_MessageValidation(t *testing.T) {
	_, url := startHTTPServer(t)
	ws, _ := dialWS(t, url, "role=agent")

	writeFrame(t, ws, &model.Frame{Type: model.FrameMessage, Message: &model.Message{
		Channel: "builds",
		Content: model.Content{Type: model.ContentNotification},
	}})
	if f := readFrame(t, ws); f.Type != model.FrameError || f.ID == "" {
		t.Errorf("invalid message reply = %+v", f)
	}
}

func TestWS_AgentRequestGetsResponse(t *testing.T) {
	s, url := startHTTPServer(t)
	agent, _ := dialWS(t, url, "role=agent")
	viewer, _ := dialWS(t, url, "role=viewer&channels=deploy")

	writeFrame(t, agent, &model.Frame{Type: model.FrameMessage, Message: &model.Message{
		Channel: "deploy",
		Content: model.Question("Ship it?", 30),
	}})
	ack := readFrame(t, agent)
	if ack.Type != model.FrameAck || ack.ID == "" {
		t.Fatalf("request ack = %+v", ack)
	}

	seen := readFrameOfType(t, viewer, model.FrameMessage)
	if seen.Message.ID != ack.ID || seen.Message.SenderType != model.SenderAgent {
		t.Fatalf("viewer saw %+v", seen.Message)
	}

	// The viewer answers over its own socket.
	writeFrame(t, viewer, &model.Frame{Type: model.FrameMessage, Message: &model.Message{
		Channel:       "deploy",
		CorrelationID: ack.ID,
		Content:       model.Content{Type: model.ContentResponse, Answer: "yes", ResponseType: model.ResponseText},
	}})
	if f := readFrameOfType(t, viewer, model.FrameAck); f.ID == "" {
		t.Errorf("response ack = %+v", f)
	}

	got := readFrameOfType(t, agent, model.FrameMessage)
	if got.Message.CorrelationID != ack.ID || got.Message.Content.Answer != "yes" || got.Message.SenderType != model.SenderHuman {
		t.Errorf("agent received %+v", got.Message)
	}
	if s.engine.IsPending(ack.ID) {
		t.Error("request still pending after response")
	}
}

func TestWS_TaskOperationAck(t *testing.T) {
	s, url := startHTTPServer(t)
	ws, _ := dialWS(t, url, "role=agent")

	writeFrame(t, ws, &model.Frame{Type: model.FrameMessage, Message: &model.Message{
		Channel: "work",
		Content: model.Content{Type: model.ContentTaskCreate, Task: &model.Task{Title: "index docs"}},
	}})
	ack := readFrameOfType(t, ws, model.FrameAck)
	task, err := s.GetTask("work", ack.ID)
	if err != nil || task.Title != "index docs" {
		t.Errorf("GetTask(%q) = %+v, %v", ack.ID, task, err)
	}
}

func TestWS_DisconnectDeregisters(t *testing.T) {
	s, url := startHTTPServer(t)
	ws, _ := dialWS(t, url, "role=viewer")
	if s.hub.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.hub.Count())
	}
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection not deregistered after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWS_ConnectionLimit(t *testing.T) {
	s := New(Options{MaxConnections: 1, Logger: newTestServer(t).logger})
	ts := httptest.NewServer(s.NewHTTPHandler())
	t.Cleanup(ts.Close)

	dialWS(t, ts.URL, "role=viewer")
	resp, err := http.Get(ts.URL + "/ws?role=viewer")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
