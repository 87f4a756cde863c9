package cli

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/spearman-engine/api"
	"github.com/VanDung-dev/spearman-engine/cache"
	"github.com/VanDung-dev/spearman-engine/config"
	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/logging"
	"github.com/VanDung-dev/spearman-engine/network"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// poolGaugeInterval is how often worker pool gauges are refreshed.
const poolGaugeInterval = 5 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the correlation server",
		Long: `Run the TCP correlation server until SIGINT or SIGTERM.

The ZeroMQ service, the gRPC service and the Prometheus endpoint start as
well when enabled in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			logger, err := rootOpts.newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return RunServer(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "TCP listen address (overrides server.address)")
	return cmd
}

// Service wires the engine, the transports and the metrics endpoint
// described by a Config.
type Service struct {
	cfg     *config.Config
	logger  *logging.Logger
	pool    *engine.WorkerPool
	metrics *api.Metrics

	arrow      *api.ArrowServer
	grpc       *api.GRPCServer
	zmq        *network.ZmqService
	metricsSrv *api.MetricsServer

	stopGauges context.CancelFunc
}

// NewService builds a Service from cfg without starting any listener.
func NewService(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrNoop(logger)

	workers := cfg.Engine.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	s := &Service{
		cfg:    cfg,
		logger: logger,
		pool:   engine.NewWorkerPool("spearman", workers),
	}

	calcOpts := []spearman.Option{
		spearman.WithRunner(engine.NewRunner(s.pool, cfg.Engine.PartitionRows)),
		spearman.WithCellParallelism(cfg.Engine.CellParallelism),
		spearman.WithLogger(logger),
	}
	codec, err := api.NewCodec(cfg.Server.Compression)
	if err != nil {
		s.pool.Shutdown()
		return nil, err
	}
	handlerOpts := []api.HandlerOption{
		api.WithDefaultMode(cfg.Mode()),
		api.WithCodec(codec),
		api.WithHandlerLogger(logger),
	}

	if cfg.Metrics.Enabled {
		s.metrics = api.NewMetrics(cfg.Metrics.Namespace, nil)
		calcOpts = append(calcOpts, spearman.WithMetrics(s.metrics))
		handlerOpts = append(handlerOpts, api.WithHandlerMetrics(s.metrics))
		s.metricsSrv = api.NewMetricsServer(cfg.Metrics.Address, s.metrics.Gatherer())
	}
	if cfg.Cache.Capacity > 0 {
		c, err := cache.New(cfg.Cache.Capacity)
		if err != nil {
			s.pool.Shutdown()
			return nil, err
		}
		handlerOpts = append(handlerOpts, api.WithCache(c))
	}

	handler := api.NewArrowHandler(spearman.NewCalculator(calcOpts...), handlerOpts...)
	serverCfg := api.ServerConfig{
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		AuthToken:       cfg.Server.AuthToken,
	}
	s.arrow = api.NewArrowServer(handler, serverCfg, logger)
	if cfg.GRPC.Enabled {
		s.grpc = api.NewGRPCServer(handler, serverCfg, logger)
	}
	if cfg.ZMQ.Enabled {
		s.zmq = network.NewZmqService(cfg.ZMQ.Endpoint, handler, logger)
	}
	return s, nil
}

// Start opens every configured listener.
func (s *Service) Start() error {
	if err := s.arrow.StartAsync(s.cfg.Server.Address); err != nil {
		return fmt.Errorf("failed to start arrow server: %w", err)
	}
	if s.grpc != nil {
		if err := s.grpc.StartAsync(s.cfg.GRPC.Address); err != nil {
			s.arrow.Stop()
			return fmt.Errorf("failed to start grpc server: %w", err)
		}
	}
	if s.zmq != nil {
		if err := s.zmq.Start(); err != nil {
			if s.grpc != nil {
				s.grpc.Stop()
			}
			s.arrow.Stop()
			return fmt.Errorf("failed to start zmq service: %w", err)
		}
	}
	if s.metricsSrv != nil {
		s.metricsSrv.StartAsync()
		s.logger.Info("metrics endpoint listening", "address", s.cfg.Metrics.Address)

		ctx, cancel := context.WithCancel(context.Background())
		s.stopGauges = cancel
		go s.updatePoolGauges(ctx)
	}
	return nil
}

// Addr returns the TCP listening address.
func (s *Service) Addr() net.Addr {
	return s.arrow.Addr()
}

// GRPCAddr returns the gRPC listening address, or nil when gRPC is disabled.
func (s *Service) GRPCAddr() net.Addr {
	if s.grpc == nil {
		return nil
	}
	return s.grpc.Addr()
}

// Stop closes all listeners and drains the worker pool.
func (s *Service) Stop() {
	if s.stopGauges != nil {
		s.stopGauges()
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Stop(); err != nil {
			s.logger.Warn("metrics server stop failed", "error", err)
		}
	}
	if s.zmq != nil {
		s.zmq.Stop()
	}
	if s.grpc != nil {
		s.grpc.Stop()
	}
	s.arrow.Stop()
	s.pool.Shutdown()
}

func (s *Service) updatePoolGauges(ctx context.Context) {
	ticker := time.NewTicker(poolGaugeInterval)
	defer ticker.Stop()

	s.metrics.UpdateWorkerPool(s.pool.GetStats())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.UpdateWorkerPool(s.pool.GetStats())
		}
	}
}

// RunServer starts a Service for cfg and blocks until ctx is done.
func RunServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	svc, err := NewService(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid server configuration", err)
	}
	if err := svc.Start(); err != nil {
		svc.pool.Shutdown()
		return err
	}

	<-ctx.Done()
	logging.OrNoop(logger).Info("shutting down server")
	svc.Stop()
	return nil
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate a random auth token for server.auth_token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := api.GenerateToken()
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"token": token}, token)
		},
	}
}
