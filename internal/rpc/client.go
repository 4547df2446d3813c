package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"kvcache/internal/instrument"
)

type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection. The caller owns conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial opens a plaintext connection to addr.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}

// Store sends value, which must be a string, []byte, integer or float.
func (c *Client) Store(ctx context.Context, value any) (string, error) {
	if c == nil {
		return "", grpc.ErrClientConnClosing
	}
	msg, err := instrument.ToMessage(value)
	if err != nil {
		return "", err
	}
	in, err := anypb.New(msg)
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, storeMethod, in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if c == nil {
		return nil, grpc.ErrClientConnClosing
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, retrieveMethod, wrapperspb.String(key), out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *Client) Calls(ctx context.Context, identity string) (int64, error) {
	if c == nil {
		return 0, grpc.ErrClientConnClosing
	}
	out := new(wrapperspb.Int64Value)
	if err := c.conn.Invoke(ctx, callsMethod, wrapperspb.String(identity), out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

func (c *Client) Replay(ctx context.Context, identity string) ([]string, error) {
	if c == nil {
		return nil, grpc.ErrClientConnClosing
	}
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, replayMethod, wrapperspb.String(identity), out); err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(out.GetValues()))
	for _, value := range out.GetValues() {
		lines = append(lines, value.GetStringValue())
	}
	return lines, nil
}

func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	if c == nil {
		return "", grpc.ErrClientConnClosing
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fetchMethod, wrapperspb.String(url), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
