package spearman

import (
	"cmp"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/VanDung-dev/spearman-engine/data"
)

// RankedPair holds the rank-transformed copies of two columns. X and Y
// always have equal length.
type RankedPair struct {
	X []float64
	Y []float64
}

// Len returns the number of rows in the pair.
func (p RankedPair) Len() int {
	return len(p.X)
}

// RankPair rank-transforms a pair of columns. The source columns are never
// modified.
//
// For AllObs and Everything, rows where either column is missing are removed
// first (pairwise-complete observations). CompleteObs keeps every row.
// Categorical columns are already rank-like and their codes pass through
// unchanged; numeric columns are ranked with Rank.
func RankPair(x, y *data.Column, mode Mode) (RankedPair, error) {
	if x == nil || y == nil {
		return RankedPair{}, ErrNilFrame
	}
	if x.Len() != y.Len() {
		return RankedPair{}, &ErrLengthMismatch{Column: y.Name(), Expected: x.Len(), Actual: y.Len()}
	}

	xs, ys := x.Values(), y.Values()
	if mode != CompleteObs {
		missing := missingRows(xs, ys)
		if !missing.IsEmpty() {
			xs = without(xs, missing)
			ys = without(ys, missing)
		}
	}

	return RankedPair{X: rankColumn(x, xs), Y: rankColumn(y, ys)}, nil
}

// missingRows returns the rows where either column is missing.
func missingRows(xs, ys []float64) *roaring.Bitmap {
	missing := roaring.New()
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			missing.Add(uint32(i))
		}
	}
	return missing
}

// without copies values, skipping the rows in drop.
func without(values []float64, drop *roaring.Bitmap) []float64 {
	out := make([]float64, 0, len(values)-int(drop.GetCardinality()))
	for i, v := range values {
		if !drop.Contains(uint32(i)) {
			out = append(out, v)
		}
	}
	return out
}

func rankColumn(col *data.Column, values []float64) []float64 {
	if col.IsCategorical() {
		return slices.Clone(values)
	}
	return Rank(values)
}

// Rank returns the 0-based rank of every value, in the original row order.
// Rows are stably sorted by value; each entry takes its position in that
// order, except that a run of equal values all take the position of the
// first entry of the run (minimum rank). Missing values sort first and never
// tie, so each one takes its own position.
func Rank(values []float64) []float64 {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}

	// cmp.Compare orders NaN before any number.
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(values[a], values[b])
	})

	ranks := make([]float64, len(values))
	last := math.NaN()
	skipped := 0
	for pos, row := range order {
		v := values[row]
		if v == last {
			skipped++
		} else {
			skipped = 0
		}
		last = v
		ranks[row] = float64(pos - skipped)
	}
	return ranks
}
