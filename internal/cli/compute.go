package cli

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/spearman-engine/api"
	"github.com/VanDung-dev/spearman-engine/config"
	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/logging"
	"github.com/VanDung-dev/spearman-engine/network"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// ComputeOptions holds flags for the compute command.
type ComputeOptions struct {
	X             string
	Y             string
	Mode          string
	PartitionRows int
	Workers       int
	Remote        string
	ZmqRemote     string
	GRPCRemote    string
	Token         string
	Compression   string
	Timeout       time.Duration
}

// NewComputeCommand creates the compute command.
func NewComputeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ComputeOptions{}

	cmd := &cobra.Command{
		Use:   "compute --x FILE [--y FILE]",
		Short: "Compute a Spearman correlation matrix",
		Long: `Compute the Spearman rank correlation of every column of X against every
column of Y. Without --y, X is correlated with itself.

Datasets are read from .csv, .json, Arrow IPC stream (.arrows, .ipc) or
Arrow IPC file (.arrow, .feather) files. With --remote, --grpc or --zmq
the computation runs on a correlation server instead of in-process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompute(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.X, "x", "", "dataset providing the X columns (required)")
	cmd.Flags().StringVar(&opts.Y, "y", "", "dataset providing the Y columns (defaults to X)")
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "", "missing value mode (everything|all.obs|complete.obs)")
	cmd.Flags().IntVar(&opts.PartitionRows, "partition-rows", 0, "rows per map/reduce partition (0 uses the config value)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "worker goroutines (0 uses the config value)")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "address of a TCP correlation server")
	cmd.Flags().StringVar(&opts.ZmqRemote, "zmq", "", "endpoint of a ZeroMQ correlation service")
	cmd.Flags().StringVar(&opts.GRPCRemote, "grpc", "", "address of a gRPC correlation service")
	cmd.Flags().StringVar(&opts.Token, "token", "", "auth token for --remote and --grpc (defaults to $"+api.AuthTokenEnv+")")
	cmd.Flags().StringVar(&opts.Compression, "compression", "", "IPC compression for remote requests (none|lz4|zstd)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "abort the computation after this long (0 disables)")
	_ = cmd.MarkFlagRequired("x")
	cmd.MarkFlagsMutuallyExclusive("remote", "zmq", "grpc")

	return cmd
}

func runCompute(cmd *cobra.Command, rootOpts *RootOptions, opts *ComputeOptions) error {
	formatter := rootOpts.formatter(cmd)

	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := rootOpts.newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	mode := cfg.Mode()
	if opts.Mode != "" {
		if mode, err = spearman.ParseMode(opts.Mode); err != nil {
			return WrapExitError(ExitCommandError, "invalid --mode", err)
		}
	}

	x, y, err := loadFrames(opts.X, opts.Y)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load datasets", err)
	}
	formatter.VerboseLog("Loaded X: %d columns x %d rows, Y: %d columns x %d rows",
		x.NumCols(), x.NumRows(), y.NumCols(), y.NumRows())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	var m *data.Matrix
	switch {
	case opts.Remote != "":
		m, err = computeRemote(ctx, cfg, opts, x, y, mode)
	case opts.GRPCRemote != "":
		m, err = computeGRPC(ctx, cfg, opts, x, y, mode)
	case opts.ZmqRemote != "":
		m, err = computeZmq(ctx, cfg, opts, x, y, mode)
	default:
		m, err = computeLocal(ctx, cfg, opts, logger, x, y, mode)
	}
	if err != nil {
		if rootOpts.Format == "json" {
			_ = formatter.Error(err)
		}
		return WrapExitError(exitCodeFor(err), "computation failed", err)
	}
	formatter.VerboseLog("Computed %dx%d matrix in %s (mode %s)", m.Dim(), m.Dim(), time.Since(start), mode)

	return formatter.Matrix(m)
}

// loadFrames reads X and, when given, Y. Without a Y path Y is X.
func loadFrames(xPath, yPath string) (*data.Frame, *data.Frame, error) {
	x, err := data.LoadFrame(xPath)
	if err != nil {
		return nil, nil, err
	}
	if yPath == "" {
		return x, x, nil
	}
	y, err := data.LoadFrame(yPath)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func computeLocal(ctx context.Context, cfg *config.Config, opts *ComputeOptions, logger *logging.Logger,
	x, y *data.Frame, mode spearman.Mode) (*data.Matrix, error) {
	workers := firstPositive(opts.Workers, cfg.Engine.Workers, runtime.GOMAXPROCS(0))
	partitionRows := firstPositive(opts.PartitionRows, cfg.Engine.PartitionRows, engine.DefaultPartitionRows)

	pool := engine.NewWorkerPool("compute", workers)
	defer pool.Shutdown()

	calc := spearman.NewCalculator(
		spearman.WithRunner(engine.NewRunner(pool, partitionRows)),
		spearman.WithCellParallelism(cfg.Engine.CellParallelism),
		spearman.WithLogger(logger),
	)
	return calc.Compute(ctx, x, y, mode)
}

func computeRemote(ctx context.Context, cfg *config.Config, opts *ComputeOptions,
	x, y *data.Frame, mode spearman.Mode) (*data.Matrix, error) {
	client, err := api.Dial(ctx, opts.Remote,
		api.WithToken(tokenFor(opts)),
		api.WithCompression(compressionFor(cfg, opts)),
	)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Correlate(ctx, x, y, mode)
}

func computeGRPC(ctx context.Context, cfg *config.Config, opts *ComputeOptions,
	x, y *data.Frame, mode spearman.Mode) (*data.Matrix, error) {
	client, err := api.DialGRPC(opts.GRPCRemote,
		api.WithToken(tokenFor(opts)),
		api.WithCompression(compressionFor(cfg, opts)),
	)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Correlate(ctx, x, y, mode)
}

func computeZmq(ctx context.Context, cfg *config.Config, opts *ComputeOptions,
	x, y *data.Frame, mode spearman.Mode) (*data.Matrix, error) {
	client, err := network.DialZmq(opts.ZmqRemote, compressionFor(cfg, opts))
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Correlate(ctx, x, y, mode)
}

func tokenFor(opts *ComputeOptions) string {
	if opts.Token != "" {
		return opts.Token
	}
	return os.Getenv(api.AuthTokenEnv)
}

func compressionFor(cfg *config.Config, opts *ComputeOptions) string {
	if opts.Compression != "" {
		return opts.Compression
	}
	return cfg.Server.Compression
}

// exitCodeFor maps precondition errors (bad input shape) to command errors.
func exitCodeFor(err error) int {
	if errors.Is(err, spearman.ErrPrecondition) {
		return ExitCommandError
	}
	return ExitFailure
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
