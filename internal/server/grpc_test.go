package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/rpc"
)

// startGRPC serves s over an in-memory listener and returns a client
// connection to it.
func startGRPC(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(s)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := rpc.ToStruct(in)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	out := new(structpb.Struct)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	err = conn.Invoke(ctx, rpc.FullMethod(method), req, out)
	return out, err
}

func TestGRPC_Health(t *testing.T) {
	conn := startGRPC(t, newTestServer(t))
	out, err := invoke(t, conn, rpc.MethodHealth, nil)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if got := out.Fields["status"].GetStringValue(); got != "healthy" {
		t.Errorf("status = %q, want healthy", got)
	}
}

func TestGRPC_SendAndGetMessage(t *testing.T) {
	conn := startGRPC(t, newTestServer(t))

	out, err := invoke(t, conn, rpc.MethodSendMessage, map[string]any{
		"channel": "builds",
		"content": map[string]any{"type": "notification", "text": "done"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	var msg model.Message
	if err := rpc.FromStruct(out, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" || msg.Channel != "builds" {
		t.Fatalf("sent = %+v", msg)
	}

	out, err = invoke(t, conn, rpc.MethodGetMessage, map[string]any{"id": msg.ID})
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if out.Fields["content"].GetStructValue().Fields["text"].GetStringValue() != "done" {
		t.Errorf("GetMessage = %v", out)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	conn := startGRPC(t, newTestServer(t))

	tests := []struct {
		name   string
		method string
		in     map[string]any
		want   codes.Code
	}{
		{"missing id", rpc.MethodGetMessage, nil, codes.InvalidArgument},
		{"unknown message", rpc.MethodGetMessage, map[string]any{"id": "nope"}, codes.NotFound},
		{"invalid message", rpc.MethodSendMessage, map[string]any{
			"channel": "Bad Name",
			"content": map[string]any{"type": "notification", "text": "x"},
		}, codes.InvalidArgument},
		{"respond without id", rpc.MethodRespond, map[string]any{"answer": "y"}, codes.InvalidArgument},
		{"respond unknown", rpc.MethodRespond, map[string]any{"request_id": "nope", "answer": "y"}, codes.NotFound},
		{"request not a request", rpc.MethodRequest, map[string]any{
			"content": map[string]any{"type": "notification", "text": "x"},
		}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(t, conn, tt.method, tt.in)
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestGRPC_RequestAnsweredViaRespond(t *testing.T) {
	s := newTestServer(t)
	conn := startGRPC(t, s)

	type result struct {
		out *structpb.Struct
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := invoke(t, conn, rpc.MethodRequest, map[string]any{
			"channel":         "deploy",
			"content":         map[string]any{"type": "authorization", "action": "deploy prod"},
			"timeout_seconds": 10,
		})
		done <- result{out, err}
	}()

	req := pendingRequest(t, s, "deploy")
	if _, err := invoke(t, conn, rpc.MethodRespond, map[string]any{
		"request_id":    req.ID,
		"response_type": "authorization_approved",
	}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("Request: %v", r.err)
	}
	if got := r.out.Fields["outcome"].GetStringValue(); got != "answered" {
		t.Errorf("outcome = %q", got)
	}
	resp := r.out.Fields["response"].GetStructValue()
	if resp.Fields["content"].GetStructValue().Fields["response_type"].GetStringValue() != "authorization_approved" {
		t.Errorf("response = %v", resp)
	}
}

func TestGRPC_SendTaskOperation(t *testing.T) {
	s := newTestServer(t)
	conn := startGRPC(t, s)

	out, err := invoke(t, conn, rpc.MethodSendMessage, map[string]any{
		"channel": "work",
		"content": map[string]any{"type": "task_create", "task": map[string]any{"title": "write docs"}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	id := out.Fields["task"].GetStructValue().Fields["id"].GetStringValue()
	if _, err := s.GetTask("work", id); err != nil {
		t.Errorf("GetTask(%q): %v", id, err)
	}
}

func TestGRPC_Watch(t *testing.T) {
	s := newTestServer(t)
	conn := startGRPC(t, s)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	stream, err := conn.NewStream(ctx, &rpc.WatchStreamDesc, rpc.FullMethod(rpc.MethodWatch))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	req, _ := rpc.ToStruct(map[string]any{"channels": []string{"alerts"}})
	if err := stream.SendMsg(req); err != nil {
		t.Fatal(err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}

	// Wait for the watcher to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Send(ctx, "noise", model.SenderAgent, model.Notification("skip", ""), nil)
	s.Send(ctx, "alerts", model.SenderAgent, model.Notification("disk full", "urgent"), nil)

	out := new(structpb.Struct)
	if err := stream.RecvMsg(out); err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	var msg model.Message
	if err := rpc.FromStruct(out, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Channel != "alerts" || msg.Content.Text != "disk full" {
		t.Errorf("watched %+v", msg)
	}

	cancel()
	if err := stream.RecvMsg(out); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("RecvMsg after cancel = %v, want Canceled", err)
	}
}
