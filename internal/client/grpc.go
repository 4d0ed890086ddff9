package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/rpc"
)

// GRPCClient implements BrokerClient using the gRPC transport.
type GRPCClient struct {
	addr string
	conn *grpc.ClientConn
}

var _ BrokerClient = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{addr: addr, conn: conn}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) SendMessage(ctx context.Context, req *SendMessageRequest) (*model.Message, error) {
	var msg model.Message
	if err := c.call(ctx, rpc.MethodSendMessage, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *GRPCClient) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := c.call(ctx, rpc.MethodGetMessage, map[string]string{"id": id}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *GRPCClient) Respond(ctx context.Context, requestID string, req *RespondRequest) (*model.Message, error) {
	in := struct {
		RequestID string `json:"request_id"`
		*RespondRequest
	}{requestID, req}
	var msg model.Message
	if err := c.call(ctx, rpc.MethodRespond, in, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *GRPCClient) Request(ctx context.Context, req *RequestRequest) (*RequestResult, error) {
	var res RequestResult
	if err := c.call(ctx, rpc.MethodRequest, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call(ctx, rpc.MethodHealth, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Watch opens a Watch stream and hands each message to fn. The stream is
// not resumed after a failure; callers that need that use Viewer.
func (c *GRPCClient) Watch(ctx context.Context, channels []string, fn func(*model.Message) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &rpc.WatchStreamDesc, rpc.FullMethod(rpc.MethodWatch))
	if err != nil {
		return c.wrap(err)
	}
	in, err := rpc.ToStruct(map[string]any{"channels": channels})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return c.wrap(err)
	}
	if err := stream.CloseSend(); err != nil {
		return c.wrap(err)
	}

	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return c.wrap(err)
		}
		var msg model.Message
		if err := rpc.FromStruct(out, &msg); err != nil {
			return err
		}
		if err := fn(&msg); err != nil {
			return err
		}
	}
}

// call invokes a unary method with JSON-shaped input and output.
func (c *GRPCClient) call(ctx context.Context, method string, in, out any) error {
	req, err := rpc.ToStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, rpc.FullMethod(method), req, resp); err != nil {
		return c.wrap(err)
	}
	return rpc.FromStruct(resp, out)
}

// wrap maps transport failures to *model.ConnectionError and the codes the
// broker uses for lookups and timeouts onto its sentinel errors.
func (c *GRPCClient) wrap(err error) error {
	switch status.Code(err) {
	case codes.Unavailable:
		return &model.ConnectionError{Addr: c.addr, Err: err}
	case codes.NotFound:
		return fmt.Errorf("%w: %s", model.ErrNotFound, status.Convert(err).Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", model.ErrTimeout, status.Convert(err).Message())
	}
	return err
}
