package spearman

import (
	"context"
	"math"

	"github.com/cockroachdb/apd/v3"

	"github.com/VanDung-dev/spearman-engine/engine"
)

var (
	// sumContext keeps partition sums exact to 34 significant digits.
	sumContext = apd.BaseContext.WithPrecision(34)
	// quoContext rounds the partition mean to 16 significant digits.
	quoContext = apd.BaseContext.WithPrecision(16)
)

// MeanAccumulator computes per-column means over the rows where every
// column is present. It is an engine.MRTask: one instance maps one
// partition, partials merge with a count-weighted average.
type MeanAccumulator struct {
	means []float64
	rows  int64
}

// NewMeanAccumulator returns an empty accumulator for ncols columns.
func NewMeanAccumulator(ncols int) *MeanAccumulator {
	means := make([]float64, ncols)
	for i := range means {
		means[i] = math.NaN()
	}
	return &MeanAccumulator{means: means}
}

// Map accumulates one partition. A row is skipped if any of its columns is
// missing. Sums are kept as decimals so large partitions neither overflow
// nor lose low-order digits. Calling Map again folds the new partition into
// the means already held.
func (m *MeanAccumulator) Map(c engine.Chunk) {
	ncols := c.NumCols()
	sums := make([]apd.Decimal, ncols)
	failed := make([]bool, ncols)
	var v apd.Decimal
	var n int64

rows:
	for row := 0; row < c.Len(); row++ {
		for col := 0; col < ncols; col++ {
			if math.IsNaN(c.At(col, row)) {
				continue rows
			}
		}
		n++
		for col := 0; col < ncols; col++ {
			if failed[col] {
				continue
			}
			if _, err := v.SetFloat64(c.At(col, row)); err != nil {
				failed[col] = true
				continue
			}
			if _, err := sumContext.Add(&sums[col], &sums[col], &v); err != nil {
				failed[col] = true
			}
		}
	}

	if n == 0 {
		return
	}
	part := &MeanAccumulator{means: make([]float64, ncols), rows: n}
	count := apd.New(n, 0)
	for col := 0; col < ncols; col++ {
		part.means[col] = math.NaN()
		if failed[col] {
			continue
		}
		var q apd.Decimal
		if _, err := quoContext.Quo(&q, &sums[col], count); err != nil {
			continue
		}
		if f, err := q.Float64(); err == nil {
			part.means[col] = f
		}
	}
	m.Reduce(part)
}

// Reduce merges another partial into m, weighting each side by its row count.
func (m *MeanAccumulator) Reduce(o *MeanAccumulator) {
	if o.rows == 0 {
		return
	}
	if m.rows == 0 {
		m.means = append(m.means[:0], o.means...)
		m.rows = o.rows
		return
	}
	total := m.rows + o.rows
	for i := range m.means {
		m.means[i] = (m.means[i]*float64(m.rows) + o.means[i]*float64(o.rows)) / float64(total)
	}
	m.rows = total
}

// Means returns the per-column means, NaN when no row was complete.
func (m *MeanAccumulator) Means() []float64 {
	return m.means
}

// Rows returns the number of complete rows seen.
func (m *MeanAccumulator) Rows() int64 {
	return m.rows
}

// ColumnMeans returns one mean per column over the rows where all columns
// are present. The columns must be non-empty in number and equal in length.
func ColumnMeans(ctx context.Context, runner *engine.Runner, cols ...[]float64) ([]float64, error) {
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	for _, col := range cols[1:] {
		if len(col) != len(cols[0]) {
			return nil, &ErrLengthMismatch{Expected: len(cols[0]), Actual: len(col)}
		}
	}

	acc, err := engine.DoAll(ctx, runner, func() *MeanAccumulator {
		return NewMeanAccumulator(len(cols))
	}, cols...)
	if err != nil {
		return nil, err
	}
	return acc.Means(), nil
}
