package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/VanDung-dev/spearman-engine/logging"
)

const transportTCP = "tcp"

// ServerConfig configures an ArrowServer.
type ServerConfig struct {
	// MaxMessageBytes bounds request frames; 0 means MaxMessageSize.
	MaxMessageBytes int
	// RateLimit is the sustained requests per second across all
	// connections; 0 disables limiting.
	RateLimit float64
	// RateBurst is the limiter's burst size; 0 means 1.
	RateBurst int
	// AuthToken, when set, must be presented by every connection.
	// SPEARMAN_AUTH_TOKEN takes precedence over it.
	AuthToken string
}

// ArrowServer is a TCP server that listens for Arrow IPC correlation requests.
type ArrowServer struct {
	listener net.Listener
	handler  *ArrowHandler
	limiter  *rate.Limiter
	auth     *Authenticator
	maxBytes int
	logger   *logging.Logger

	running bool
	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewArrowServer creates a new ArrowServer instance.
func NewArrowServer(handler *ArrowHandler, cfg ServerConfig, logger *logging.Logger) *ArrowServer {
	if handler == nil {
		handler = NewArrowHandler(nil)
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &ArrowServer{
		handler:  handler,
		limiter:  limiter,
		auth:     NewAuthenticatorFromEnv(cfg.AuthToken),
		maxBytes: cfg.MaxMessageBytes,
		logger:   logging.OrNoop(logger).WithComponent("arrow-server"),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start starts the Arrow server on the specified address.
// This method blocks until the server is stopped or fails.
func (s *ArrowServer) Start(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}
	defer s.Stop()

	s.acceptLoop(lis)
	return nil
}

// StartAsync starts the server in a background goroutine.
func (s *ArrowServer) StartAsync(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}

	go s.acceptLoop(lis)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *ArrowServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *ArrowServer) listen(address string) (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, fmt.Errorf("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("arrow server listening", "address", lis.Addr().String(), "auth", s.auth.IsEnabled())
	return lis, nil
}

func (s *ArrowServer) acceptLoop(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		go s.handleConnection(conn)
	}
}

// track registers a live connection; it reports false once stopping.
func (s *ArrowServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *ArrowServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// Stop stops the server, closes open connections and waits for their
// handlers to return.
func (s *ArrowServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Debug("listener close failed", "error", err)
		}
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("arrow server stopped")
}

// handleConnection handles a single client connection.
func (s *ArrowServer) handleConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	log := s.logger.With("remote", conn.RemoteAddr().String())

	if s.auth.IsEnabled() {
		if err := s.auth.serverHandshake(conn, s.maxBytes); err != nil {
			log.Warn("authentication failed", "error", err)
			return
		}
	}

	for {
		// 1. Read request message
		payload, err := ReadMessageLimit(conn, s.maxBytes)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed", "error", err)
			}
			if errors.Is(err, ErrMessageTooLarge) {
				_ = WriteMessage(conn, ErrorResponse(err))
			}
			return
		}

		// 2. Throttle
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
		}

		// 3. Compute and write response message
		if err := WriteMessage(conn, s.handler.Serve(s.ctx, transportTCP, payload)); err != nil {
			log.Debug("write failed", "error", err)
			return
		}
	}
}
