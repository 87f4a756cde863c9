package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// GRPCClient sends correlation requests to a GRPCServer. It is safe for
// concurrent use.
type GRPCClient struct {
	conn  *grpc.ClientConn
	codec *Codec
	token string
}

// DialGRPC creates a client for target. The connection is established
// lazily on the first call.
func DialGRPC(target string, opts ...ClientOption) (*GRPCClient, error) {
	o := clientOptions{compression: data.CompressionNone}
	for _, opt := range opts {
		opt(&o)
	}

	codec, err := NewCodec(o.compression)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return &GRPCClient{conn: conn, codec: codec, token: o.token}, nil
}

// Correlate asks the server for the correlation matrix of x and y.
func (c *GRPCClient) Correlate(ctx context.Context, x, y *data.Frame, mode spearman.Mode) (*data.Matrix, error) {
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
func (c *GRPCClient) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, authorizationHeader, bearerPrefix+c.token)
	}

	var resp []byte
	err := c.conn.Invoke(ctx, correlateMethod, &payload, &resp, grpc.ForceCodec(frameCodec{}))
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			return nil, fmt.Errorf("%w: %s", ErrAuthFailed, status.Convert(err).Message())
		}
		return nil, ctxErr(ctx, err)
	}
	return resp, nil
}

// Health reports the serving status of the correlation service.
func (c *GRPCClient) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: GRPCServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Close closes the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
