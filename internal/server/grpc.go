package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/ailoop/internal/hub"
	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/rpc"
)

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the Broker service, reflection, and returns the server ready to serve.
func NewGRPCServer(s *Server) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
		),
	)

	rpc.RegisterBrokerServer(srv, &brokerService{s: s})
	reflection.Register(srv)

	return srv
}

// brokerService adapts Server to rpc.BrokerServer.
type brokerService struct {
	s *Server
}

var _ rpc.BrokerServer = (*brokerService)(nil)

func (b *brokerService) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sendMessageInput
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	msg := req.message(b.s.defaultChannel)
	if IsTaskOperation(msg.Content.Type) {
		if err := model.ValidateMessage(msg); err != nil {
			return nil, grpcError(err)
		}
		task, err := b.s.ApplyTaskMessage(ctx, msg)
		if err != nil {
			return nil, grpcError(err)
		}
		return toStruct(map[string]any{"task": task})
	}
	if err := b.s.Enqueue(ctx, msg); err != nil {
		return nil, grpcError(err)
	}
	return toStruct(msg)
}

func (b *brokerService) GetMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	msg, err := b.s.GetMessage(id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(msg)
}

func (b *brokerService) Respond(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		RequestID string `json:"request_id"`
		respondInput
	}
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RequestID == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}
	resp, err := b.s.Respond(ctx, req.RequestID, req.Answer, req.ResponseType, req.SenderType)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(resp)
}

func (b *brokerService) Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req requestInput
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !req.Content.Type.IsRequest() {
		return nil, status.Error(codes.InvalidArgument, "content.type must be question, authorization or navigate")
	}
	if req.TimeoutSeconds < 0 {
		return nil, status.Error(codes.InvalidArgument, "timeout_seconds must not be negative")
	}
	if req.Channel == "" {
		req.Channel = b.s.defaultChannel
	}
	if req.TimeoutSeconds > 0 {
		req.Content.TimeoutSeconds = req.TimeoutSeconds
	}
	msg := model.NewMessage(req.Channel, model.SenderAgent, req.Content)
	msg.Metadata = req.Metadata

	resp, err := b.s.AwaitResponse(ctx, msg, time.Duration(req.TimeoutSeconds)*time.Second)
	var te *model.TimeoutError
	switch {
	case err == nil:
		return toStruct(requestResult{Request: msg, Response: resp, Outcome: outcomeAnswered})
	case errors.As(err, &te) && te.Default != nil:
		return toStruct(requestResult{Request: msg, Response: te.Default, Outcome: outcomeDenied})
	case errors.As(err, &te):
		return toStruct(requestResult{Request: msg, Outcome: outcomeTimeout})
	}
	return nil, grpcError(err)
}

func (b *brokerService) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(b.s.Health())
}

// Watch registers the stream as a viewer connection and forwards every
// delivered message until the client goes away or the connection is dropped
// as a slow consumer.
func (b *brokerService) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	var req struct {
		Channels []string `json:"channels"`
	}
	if err := rpc.FromStruct(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	conn, err := b.s.hub.Register(hub.RoleViewer)
	if err != nil {
		return grpcError(err)
	}
	defer b.s.hub.Deregister(conn.ID)
	if err := b.s.hub.Subscribe(conn.ID, req.Channels); err != nil {
		return grpcError(err)
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return status.Error(codes.ResourceExhausted, "watcher fell too far behind")
		case msg := <-conn.Messages():
			out, err := toStruct(msg)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	s, err := rpc.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// grpcError maps a broker error to a gRPC status, mirroring errorStatus.
func grpcError(err error) error {
	var code codes.Code
	switch errorStatus(err) {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusConflict:
		code = codes.AlreadyExists
		if errors.Is(err, model.ErrCycleDetected) {
			code = codes.FailedPrecondition
		}
	case http.StatusRequestTimeout:
		code = codes.DeadlineExceeded
		if errors.Is(err, model.ErrCancelled) {
			code = codes.Canceled
		}
	case http.StatusServiceUnavailable:
		code = codes.ResourceExhausted
	default:
		return status.Error(codes.Internal, "internal server error")
	}
	return status.Error(code, err.Error())
}
