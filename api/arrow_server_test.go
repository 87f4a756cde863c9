package api

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/VanDung-dev/spearman-engine/cache"
	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

func startServer(t *testing.T, handler *ArrowHandler, cfg ServerConfig) *ArrowServer {
	t.Helper()
	server := NewArrowServer(handler, cfg, nil)
	if err := server.StartAsync("127.0.0.1:0"); err != nil { // random port
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Stop)
	return server
}

func testFrames(t *testing.T) (*data.Frame, *data.Frame) {
	t.Helper()
	x, err := data.NewFrame(
		data.NewNumericColumn("a", []float64{1, 2, 3, 4, 5}),
		data.NewNumericColumn("b", []float64{2, 1, 4, 3, 5}),
	)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	y, err := data.NewFrame(
		data.NewNumericColumn("c", []float64{5, 6, 7, 8, 7}),
		data.NewNumericColumn("d", []float64{5, 4, 3, 2, 1}),
	)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	return x, y
}

func TestArrowServer_BasicConnection(t *testing.T) {
	// 1. Start Server
	server := startServer(t, NewArrowHandler(nil), ServerConfig{})

	// 2. Connect Client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer client.Close()

	// 3. Request the matrix
	x, y := testFrames(t)
	m, err := client.Correlate(ctx, x, y, spearman.Everything)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}

	// 4. Verify Response
	if m.Dim() != 2 {
		t.Fatalf("Expected 2x2 matrix, got %d", m.Dim())
	}
	if got, want := m.At(0, 0), 7/math.Sqrt(88); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := m.At(0, 1); math.Abs(got+1) > 1e-12 {
		t.Errorf("Expected -1, got %v", got)
	}
	if names := m.RowNames(); names[0] != "a" || names[1] != "b" {
		t.Errorf("Unexpected row names %v", names)
	}
	if names := m.ColNames(); names[0] != "c" || names[1] != "d" {
		t.Errorf("Unexpected column names %v", names)
	}

	// 5. Same connection, self-correlation
	m, err = client.Correlate(ctx, x, x, spearman.CompleteObs)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if m.At(1, 1) != 1 {
		t.Errorf("Expected diagonal 1, got %v", m.At(1, 1))
	}
}

func TestArrowServer_ErrorResponse(t *testing.T) {
	server := startServer(t, NewArrowHandler(nil), ServerConfig{})

	ctx := context.Background()
	client, err := Dial(ctx, server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer client.Close()

	x, err := data.NewFrame(data.NewNumericColumn("a", []float64{1, math.NaN(), 3}))
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	_, err = client.Correlate(ctx, x, x, spearman.AllObs)

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Expected RemoteError, got %v", err)
	}

	// The connection stays usable after an error response.
	resp, err := client.RoundTrip(ctx, []byte("not arrow"))
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	if resp[0] != StatusError {
		t.Errorf("Expected error status, got %d", resp[0])
	}
}

func TestArrowServer_Auth(t *testing.T) {
	server := startServer(t, NewArrowHandler(nil), ServerConfig{AuthToken: "secret"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Dial(ctx, server.Addr().String(), WithToken("wrong")); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Expected ErrAuthFailed, got %v", err)
	}

	client, err := Dial(ctx, server.Addr().String(), WithToken("secret"))
	if err != nil {
		t.Fatalf("Dial with token failed: %v", err)
	}
	defer client.Close()

	x, y := testFrames(t)
	if _, err := client.Correlate(ctx, x, y, spearman.Everything); err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
}

func TestArrowServer_RateLimitAndCache(t *testing.T) {
	c, err := cache.New(8)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	handler := NewArrowHandler(nil, WithCache(c))
	server := startServer(t, handler, ServerConfig{RateLimit: 1000, RateBurst: 1})

	ctx := context.Background()
	client, err := Dial(ctx, server.Addr().String(), WithCompression(data.CompressionZstd))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	x, y := testFrames(t)
	for i := 0; i < 3; i++ {
		if _, err := client.Correlate(ctx, x, y, spearman.Everything); err != nil {
			t.Fatalf("Correlate %d failed: %v", i, err)
		}
	}

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %+v", stats)
	}
}

func TestArrowServer_MessageTooLarge(t *testing.T) {
	server := startServer(t, NewArrowHandler(nil), ServerConfig{MaxMessageBytes: 16})

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer conn.Close()

	// Announce a 64 byte frame; the server rejects it from the header alone.
	if _, err := conn.Write([]byte{0, 0, 0, 64}); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	resp, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if _, err := DecodeResponse(resp); err == nil {
		t.Error("Expected an error response")
	}
}

func TestArrowServer_StopClosesConnections(t *testing.T) {
	server := NewArrowServer(nil, ServerConfig{}, nil)
	if err := server.StartAsync("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if err := server.StartAsync("127.0.0.1:0"); err == nil {
		t.Error("Second start should fail")
	}

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		server.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	server.Stop() // idempotent
}
