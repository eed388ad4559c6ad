package service

import (
	"context"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls miniui methods over the bus.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the agent's unix socket. The connection is established
// lazily on the first call.
func Dial(socket string, opts ...grpc.DialOption) (*Client, error) {
	target := "unix:" + socket
	if filepath.IsAbs(socket) {
		target = "unix://" + socket
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Call invokes method with fields and returns the decoded reply.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
