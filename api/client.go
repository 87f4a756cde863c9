package api

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// Client sends correlation requests to an ArrowServer over one TCP
// connection. Calls are serialised.
type Client struct {
	conn  net.Conn
	codec *Codec
	mu    sync.Mutex
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

type clientOptions struct {
	token       string
	compression string
}

// WithToken authenticates the connection with token.
func WithToken(token string) ClientOption {
	return func(o *clientOptions) { o.token = token }
}

// WithCompression compresses request bodies ("none", "lz4" or "zstd").
func WithCompression(c string) ClientOption {
	return func(o *clientOptions) { o.compression = c }
}

// Dial connects to the server at address.
func Dial(ctx context.Context, address string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{compression: data.CompressionNone}
	for _, opt := range opts {
		opt(&o)
	}

	codec, err := NewCodec(o.compression)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if o.token != "" {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		if err := clientHandshake(conn, o.token); err != nil {
			conn.Close()
			return nil, err
		}
		_ = conn.SetDeadline(time.Time{})
	}

	return &Client{conn: conn, codec: codec}, nil
}

// Correlate asks the server for the correlation matrix of x and y.
func (c *Client) Correlate(ctx context.Context, x, y *data.Frame, mode spearman.Mode) (*data.Matrix, error) {
	payload, err := c.codec.EncodeRequest(x, y, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	resp, err := c.RoundTrip(ctx, payload)
	if err != nil {
		return nil, err
	}
	return c.codec.DecodeMatrixResponse(resp)
}

// RoundTrip sends one raw request payload and returns the raw response.
func (c *Client) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// Unblock the connection if ctx is canceled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := WriteMessage(c.conn, payload); err != nil {
		return nil, ctxErr(ctx, err)
	}
	resp, err := ReadMessage(c.conn)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
