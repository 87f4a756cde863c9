package api

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/VanDung-dev/spearman-engine/logging"
)

const (
	transportGRPC = "grpc"

	// GRPCServiceName is the gRPC service carrying correlation requests.
	GRPCServiceName = "spearman.Correlation"
	correlateMethod = "/" + GRPCServiceName + "/Correlate"

	authorizationHeader = "authorization"
	bearerPrefix        = "Bearer "
)

// frameCodec carries request and response payloads as raw bytes. The
// payloads are already Arrow IPC streams, so there is nothing to marshal.
// Protobuf messages (the health service) fall through to proto.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *[]byte:
		return *m, nil
	case []byte:
		return m, nil
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("frame codec: cannot marshal %T", v)
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *[]byte:
		*m = bytes.Clone(data)
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("frame codec: cannot unmarshal into %T", v)
}

func (frameCodec) Name() string {
	return "spearman-frame"
}

// CorrelationServer answers one framed correlation request.
type CorrelationServer interface {
	Correlate(ctx context.Context, request []byte) ([]byte, error)
}

var correlationServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*CorrelationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Correlate", Handler: correlateHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func correlateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req []byte
	if err := dec(&req); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, in any) (any, error) {
		resp, err := srv.(CorrelationServer).Correlate(ctx, *in.(*[]byte))
		if err != nil {
			return nil, err
		}
		return &resp, nil
	}
	if interceptor == nil {
		return call(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: correlateMethod}
	return interceptor(ctx, &req, info, call)
}

// GRPCServer serves correlation requests over gRPC. A request is the same
// Arrow IPC payload the TCP server reads; the reply is the same status byte
// plus body. The standard health service is registered alongside.
type GRPCServer struct {
	handler  *ArrowHandler
	limiter  *rate.Limiter
	auth     *Authenticator
	maxBytes int
	logger   *logging.Logger

	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener

	running bool
	mu      sync.Mutex
}

// NewGRPCServer creates a gRPC server. cfg is interpreted as for
// NewArrowServer.
func NewGRPCServer(handler *ArrowHandler, cfg ServerConfig, logger *logging.Logger) *GRPCServer {
	if handler == nil {
		handler = NewArrowHandler(nil)
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = MaxMessageSize
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return &GRPCServer{
		handler:  handler,
		limiter:  limiter,
		auth:     NewAuthenticatorFromEnv(cfg.AuthToken),
		maxBytes: maxBytes,
		logger:   logging.OrNoop(logger).WithComponent("grpc-server"),
	}
}

// Correlate implements CorrelationServer.
func (s *GRPCServer) Correlate(ctx context.Context, request []byte) ([]byte, error) {
	return s.handler.Serve(ctx, transportGRPC, request), nil
}

// Start starts the gRPC server on the specified address.
// This method blocks until the server is stopped or fails.
func (s *GRPCServer) Start(address string) error {
	srv, lis, err := s.listen(address)
	if err != nil {
		return err
	}
	return srv.Serve(lis)
}

// StartAsync starts the gRPC server asynchronously and returns immediately.
func (s *GRPCServer) StartAsync(address string) error {
	srv, lis, err := s.listen(address)
	if err != nil {
		return err
	}

	go func() {
		if err := srv.Serve(lis); err != nil {
			s.logger.Warn("grpc serve failed", "error", err)
		}
	}()
	return nil
}

func (s *GRPCServer) listen(address string) (*grpc.Server, net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, nil, fmt.Errorf("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(frameCodec{}),
		grpc.MaxRecvMsgSize(s.maxBytes),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(s.authorize, s.throttle),
	)
	s.grpcServer.RegisterService(&correlationServiceDesc, s)

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(GRPCServiceName, healthpb.HealthCheckResponse_SERVING)

	s.running = true
	s.logger.Info("grpc server listening", "address", lis.Addr().String(), "auth", s.auth.IsEnabled())
	return s.grpcServer, lis, nil
}

// Addr returns the listening address, or nil before Start.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks the service not serving and gracefully stops the server.
func (s *GRPCServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc server stopped")
}

// authorize checks the bearer token of correlation calls. Health checks
// are always allowed.
func (s *GRPCServer) authorize(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if !s.auth.IsEnabled() || info.FullMethod != correlateMethod {
		return next(ctx, req)
	}

	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(authorizationHeader); len(values) > 0 {
			token = strings.TrimPrefix(values[0], bearerPrefix)
		}
	}
	if err := s.auth.ValidateToken(token); err != nil {
		s.logger.Warn("authentication failed", "error", err)
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return next(ctx, req)
}

func (s *GRPCServer) throttle(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if s.limiter != nil && info.FullMethod == correlateMethod {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, status.FromContextError(err).Err()
		}
	}
	return next(ctx, req)
}
