package spearman

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/logging"
)

// Calculator builds Spearman correlation matrices.
type Calculator struct {
	runner          *engine.Runner
	cellParallelism int
	logger          *logging.Logger
	metrics         MetricsCollector
}

// NewCalculator creates a Calculator.
func NewCalculator(opts ...Option) *Calculator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.cellParallelism < 1 {
		o.cellParallelism = runtime.GOMAXPROCS(0)
	}
	return &Calculator{
		runner:          o.runner,
		cellParallelism: o.cellParallelism,
		logger:          o.logger.WithComponent("spearman"),
		metrics:         o.metrics,
	}
}

// Calculate computes the correlation matrix of x and y with default options.
func Calculate(ctx context.Context, x, y *data.Frame, mode Mode) (*data.Matrix, error) {
	return NewCalculator().Compute(ctx, x, y, mode)
}

// Compute returns the square matrix whose cell (i, j) is the Spearman
// coefficient between column i of x and column j of y.
//
// Shape errors are reported before anything else. In AllObs mode any
// missing value in either dataset fails the call and no matrix is produced.
// Cells are otherwise independent: a cell is 1 on the diagonal of a
// self-correlation (unless mode is Everything), NaN when mode is Everything
// and either column has a missing value, and computed otherwise.
func (c *Calculator) Compute(ctx context.Context, x, y *data.Frame, mode Mode) (*data.Matrix, error) {
	start := time.Now()
	m, err := c.compute(ctx, x, y, mode)

	columns, rows := 0, 0
	if x != nil {
		columns, rows = x.NumCols(), x.NumRows()
	}
	elapsed := time.Since(start)
	c.logger.WithMode(mode).LogMatrix(ctx, columns, rows, elapsed, err)
	c.metrics.RecordMatrix(mode, columns, elapsed, err)

	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Calculator) compute(ctx context.Context, x, y *data.Frame, mode Mode) (*data.Matrix, error) {
	if x == nil || y == nil {
		return nil, ErrNilFrame
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrPrecondition, mode)
	}
	if x.NumCols() != y.NumCols() {
		return nil, &ErrColumnCountMismatch{X: x.NumCols(), Y: y.NumCols()}
	}
	if x.NumRows() != y.NumRows() {
		return nil, &ErrLengthMismatch{Expected: x.NumRows(), Actual: y.NumRows()}
	}
	if mode == AllObs {
		if err := checkNoMissing(x, y); err != nil {
			return nil, err
		}
	}

	m, err := data.NewMatrix(x.Names(), y.Names())
	if err != nil {
		return nil, err
	}

	sameColumns := mode != Everything && x.SameColumns(y)
	n := x.NumCols()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cellParallelism)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for j := 0; j < n; j++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				v, kind, err := c.cell(gctx, x.Column(i), y.Column(j), mode, sameColumns && i == j)
				if err != nil {
					return fmt.Errorf("cell (%s, %s): %w", x.Column(i).Name(), y.Column(j).Name(), err)
				}
				m.Set(i, j, v)
				c.metrics.RecordCell(kind)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

// cell computes one coefficient.
func (c *Calculator) cell(ctx context.Context, xc, yc *data.Column, mode Mode, diagonal bool) (float64, CellKind, error) {
	if diagonal {
		return 1, CellDiagonal, nil
	}
	if mode == Everything && (xc.NACount() > 0 || yc.NACount() > 0) {
		return math.NaN(), CellNaN, nil
	}

	pair, err := RankPair(xc, yc, mode)
	if err != nil {
		return 0, CellComputed, err
	}
	means, err := ColumnMeans(ctx, c.runner, pair.X, pair.Y)
	if err != nil {
		return 0, CellComputed, err
	}
	moments, err := engine.DoAll(ctx, c.runner, func() *MomentAccumulator {
		return NewMomentAccumulator(means[0], means[1])
	}, pair.X, pair.Y)
	if err != nil {
		return 0, CellComputed, err
	}
	return clamp(moments.Coefficient()), CellComputed, nil
}

// checkNoMissing fails with ErrMissingValues on the first column of x or y
// holding a missing value.
func checkNoMissing(x, y *data.Frame) error {
	for _, f := range []*data.Frame{x, y} {
		for _, col := range f.Columns() {
			if n := col.NACount(); n > 0 {
				return &ErrMissingValues{Column: col.Name(), Count: n}
			}
		}
	}
	return nil
}

// clamp pins rounding overshoot into [-1, 1]. NaN passes through.
func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
