package spearman

import (
	"runtime"
	"time"

	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/logging"
)

// CellKind classifies how a matrix cell was produced.
type CellKind int

const (
	// CellDiagonal is a self-correlation filled in without computation.
	CellDiagonal CellKind = iota
	// CellNaN is a cell short-circuited to NaN by missing data.
	CellNaN
	// CellComputed went through rank, mean and moment passes.
	CellComputed
)

func (k CellKind) String() string {
	switch k {
	case CellDiagonal:
		return "diagonal"
	case CellNaN:
		return "nan"
	case CellComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// MetricsCollector receives operational metrics from a Calculator.
type MetricsCollector interface {
	// RecordMatrix is called once per Compute call.
	RecordMatrix(mode Mode, columns int, duration time.Duration, err error)

	// RecordCell is called for every cell that was filled in.
	RecordCell(kind CellKind)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMatrix(Mode, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCell(CellKind)                          {}

type options struct {
	runner          *engine.Runner
	cellParallelism int
	logger          *logging.Logger
	metrics         MetricsCollector
}

// Option configures a Calculator.
type Option func(*options)

// WithRunner sets the map/reduce runner used for the mean and moment
// passes. A nil runner processes partitions sequentially.
func WithRunner(r *engine.Runner) Option {
	return func(o *options) {
		o.runner = r
	}
}

// WithCellParallelism bounds how many matrix rows are computed at once.
// Values below one mean GOMAXPROCS.
func WithCellParallelism(n int) Option {
	return func(o *options) {
		o.cellParallelism = n
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = logging.OrNoop(l)
	}
}

// WithMetrics sets the metrics collector. If nil is passed, metrics are
// discarded.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

func defaultOptions() options {
	return options{
		cellParallelism: runtime.GOMAXPROCS(0),
		logger:          logging.NoopLogger(),
		metrics:         NoopMetricsCollector{},
	}
}
