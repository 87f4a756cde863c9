package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/VanDung-dev/spearman-engine/api"
	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/logging"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// MaxNetworkMessageSize bounds request payloads accepted over ZeroMQ.
const MaxNetworkMessageSize = api.MaxMessageSize

const transportZMQ = "zmq"

// Common errors for network operations
var (
	ErrServiceNotRunning = errors.New("service is not running")
	ErrSendFailed        = errors.New("failed to send message")
	ErrBadReply          = errors.New("malformed reply")
)

// Handler answers one request payload with a complete response (status
// byte followed by the body). *api.ArrowHandler implements it.
type Handler interface {
	Serve(ctx context.Context, transport string, payload []byte) []byte
}

// ServiceStats contains service statistics.
type ServiceStats struct {
	Endpoint  string `json:"endpoint"`
	IsRunning bool   `json:"is_running"`
	Served    int64  `json:"served"`
	Rejected  int64  `json:"rejected"`
}

// ZmqService answers correlation requests on a ZeroMQ REP socket.
// Each request is one frame; each reply is two frames: status and body.
type ZmqService struct {
	endpoint string
	handler  Handler
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	rep    zmq4.Socket

	served   atomic.Int64
	rejected atomic.Int64

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewZmqService creates a service bound to endpoint (for example
// "tcp://127.0.0.1:5555") once started.
func NewZmqService(endpoint string, handler Handler, logger *logging.Logger) *ZmqService {
	return &ZmqService{
		endpoint: endpoint,
		handler:  handler,
		logger:   logging.OrNoop(logger).WithComponent("zmq-service"),
	}
}

// Start binds the REP socket and begins serving in the background.
func (s *ZmqService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("service already running")
	}
	if s.handler == nil {
		return errors.New("service has no handler")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.rep = zmq4.NewRep(s.ctx)
	if err := s.rep.Listen(s.endpoint); err != nil {
		s.cancel()
		return fmt.Errorf("failed to bind rep socket: %w", err)
	}
	s.running = true

	s.wg.Add(1)
	go s.serveLoop()

	s.logger.Info("zmq service listening", "endpoint", s.endpoint)
	return nil
}

// Stop gracefully shuts down the service.
func (s *ZmqService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	// Cancel context to stop goroutines
	s.cancel()

	// Close socket (best effort - errors are expected during shutdown)
	if err := s.rep.Close(); err != nil {
		s.logger.Debug("rep socket close failed", "error", err)
	}

	s.wg.Wait()
	s.logger.Info("zmq service stopped")
}

// Endpoint returns the configured endpoint.
func (s *ZmqService) Endpoint() string {
	return s.endpoint
}

// GetStats returns current service statistics.
func (s *ZmqService) GetStats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServiceStats{
		Endpoint:  s.endpoint,
		IsRunning: s.running,
		Served:    s.served.Load(),
		Rejected:  s.rejected.Load(),
	}
}

// serveLoop receives requests and replies to each in turn.
func (s *ZmqService) serveLoop() {
	defer s.wg.Done()

	for {
		msg, err := s.rep.Recv()
		if err != nil {
			// Check if context cancelled
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Debug("recv failed", "error", err)
				continue
			}
		}

		resp := s.respond(msg)
		reply := zmq4.NewMsgFrom(resp[:1], resp[1:])
		if err := s.rep.SendMulti(reply); err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn("send failed", "error", err)
			}
		}
	}
}

func (s *ZmqService) respond(msg zmq4.Msg) []byte {
	payload := msg.Bytes()
	switch {
	case len(msg.Frames) != 1:
		s.rejected.Add(1)
		return api.ErrorResponse(fmt.Errorf("expected 1 request frame, got %d", len(msg.Frames)))
	case len(payload) > MaxNetworkMessageSize:
		s.rejected.Add(1)
		return api.ErrorResponse(fmt.Errorf("%w: %d bytes", api.ErrMessageTooLarge, len(payload)))
	}

	s.served.Add(1)
	return s.handler.Serve(s.ctx, transportZMQ, payload)
}

// ZmqClient sends correlation requests over a ZeroMQ REQ socket. Calls are
// serialised; a call abandoned through its context closes the socket.
type ZmqClient struct {
	req   zmq4.Socket
	codec *api.Codec

	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

// DialZmq connects a REQ socket to endpoint. Request bodies are written with
// the given IPC compression.
func DialZmq(endpoint, compression string) (*ZmqClient, error) {
	codec, err := api.NewCodec(compression)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := zmq4.NewReq(ctx, zmq4.WithDialerRetry(100*time.Millisecond))
	if err := req.Dial(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return &ZmqClient{req: req, codec: codec, cancel: cancel}, nil
}

// Correlate asks the service for the correlation matrix of x and y.
func (c *ZmqClient) Correlate(ctx context.Context, x, y *data.Frame, mode spearman.Mode) (*data.Matrix, error) {
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

// RoundTrip sends one raw request payload and returns the response with its
// status byte first.
func (c *ZmqClient) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrServiceNotRunning
	}

	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		if err := c.req.Send(zmq4.NewMsg(payload)); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrSendFailed, err)}
			return
		}
		msg, err := c.req.Recv()
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		// A REQ socket cannot send again until it has received.
		c.closeLocked()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if len(r.msg.Frames) != 2 || len(r.msg.Frames[0]) != 1 {
			return nil, fmt.Errorf("%w: %d frames", ErrBadReply, len(r.msg.Frames))
		}
		return append(r.msg.Frames[0], r.msg.Frames[1]...), nil
	}
}

// Close closes the socket.
func (c *ZmqClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *ZmqClient) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	return c.req.Close()
}
