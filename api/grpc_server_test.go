package api

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

func startGRPCServer(t *testing.T, cfg ServerConfig) *GRPCServer {
	t.Helper()
	server := NewGRPCServer(NewArrowHandler(nil), cfg, nil)
	if err := server.StartAsync("127.0.0.1:0"); err != nil { // random port
		t.Fatalf("Failed to start grpc server: %v", err)
	}
	t.Cleanup(server.Stop)
	return server
}

func dialGRPC(t *testing.T, server *GRPCServer, opts ...ClientOption) *GRPCClient {
	t.Helper()
	client, err := DialGRPC(server.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("DialGRPC failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCServer_Correlate(t *testing.T) {
	server := startGRPCServer(t, ServerConfig{})
	client := dialGRPC(t, server, WithCompression(data.CompressionZstd))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	x, y := testFrames(t)
	m, err := client.Correlate(ctx, x, y, spearman.Everything)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if m.Dim() != 2 {
		t.Fatalf("Expected 2x2 matrix, got %d", m.Dim())
	}
	if got, want := m.At(0, 0), 7/math.Sqrt(88); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := m.At(0, 1); math.Abs(got+1) > 1e-12 {
		t.Errorf("Expected -1, got %v", got)
	}
}

func TestGRPCServer_ErrorResponse(t *testing.T) {
	server := startGRPCServer(t, ServerConfig{})
	client := dialGRPC(t, server)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	x, err := data.NewFrame(data.NewNumericColumn("a", []float64{1, math.NaN(), 3}))
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	_, err = client.Correlate(ctx, x, x, spearman.AllObs)

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Expected RemoteError, got %v", err)
	}

	resp, err := client.RoundTrip(ctx, []byte("not arrow"))
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	if resp[0] != StatusError {
		t.Errorf("Expected error status, got %d", resp[0])
	}
}

func TestGRPCServer_Auth(t *testing.T) {
	t.Setenv(AuthTokenEnv, "")
	server := startGRPCServer(t, ServerConfig{AuthToken: "secret"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	x, y := testFrames(t)

	anonymous := dialGRPC(t, server)
	if _, err := anonymous.Correlate(ctx, x, y, spearman.Everything); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Expected ErrAuthFailed, got %v", err)
	}

	// Health checks need no token.
	st, err := anonymous.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", st)
	}

	client := dialGRPC(t, server, WithToken("secret"))
	if _, err := client.Correlate(ctx, x, y, spearman.Everything); err != nil {
		t.Fatalf("Correlate with token failed: %v", err)
	}
}

func TestGRPCServer_StartStop(t *testing.T) {
	server := NewGRPCServer(nil, ServerConfig{}, nil)
	if server.Addr() != nil {
		t.Error("Expected nil address before start")
	}
	if err := server.StartAsync("127.0.0.1:0"); err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	if err := server.StartAsync("127.0.0.1:0"); err == nil {
		t.Error("Expected error starting a running server")
	}
	server.Stop()
	server.Stop()
}

func TestFrameCodec(t *testing.T) {
	codec := frameCodec{}
	in := []byte{1, 2, 3}
	out, err := codec.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got []byte
	if err := codec.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	out[0] = 9
	if got[0] != 1 {
		t.Error("Unmarshal must copy the wire buffer")
	}

	if _, err := codec.Marshal(42); err == nil {
		t.Error("Expected error for unsupported type")
	}
}
