package spearman

import (
	"math"

	"github.com/VanDung-dev/spearman-engine/engine"
)

// MomentAccumulator gathers the sums needed for the correlation of two
// ranked columns in a single pass. The column means are supplied up front.
// Partials add; PostGlobal turns the totals into the coefficient.
type MomentAccumulator struct {
	meanX float64
	meanY float64

	sumXY     float64
	sumSqDevX float64
	sumSqDevY float64
	count     int64

	coefficient float64
}

// NewMomentAccumulator returns an empty accumulator for the given means.
func NewMomentAccumulator(meanX, meanY float64) *MomentAccumulator {
	return &MomentAccumulator{meanX: meanX, meanY: meanY, coefficient: math.NaN()}
}

// Map accumulates one partition of the (x, y) column pair.
func (m *MomentAccumulator) Map(c engine.Chunk) {
	xs, ys := c.Col(0), c.Col(1)
	for i := range xs {
		x, y := xs[i], ys[i]
		m.count++
		m.sumXY += x * y

		dx := x - m.meanX
		dy := y - m.meanY
		m.sumSqDevX += dx * dx
		m.sumSqDevY += dy * dy
	}
}

// Reduce adds another partial's sums into m.
func (m *MomentAccumulator) Reduce(o *MomentAccumulator) {
	m.sumXY += o.sumXY
	m.sumSqDevX += o.sumSqDevX
	m.sumSqDevY += o.sumSqDevY
	m.count += o.count
}

// PostGlobal computes the coefficient from the merged sums. A zero count or
// a constant column yields NaN.
func (m *MomentAccumulator) PostGlobal() {
	n := float64(m.count)
	stdDevX := math.Sqrt(m.sumSqDevX / n)
	stdDevY := math.Sqrt(m.sumSqDevY / n)

	m.coefficient = (m.sumXY - n*m.meanX*m.meanY) / (n * stdDevX * stdDevY)
}

// Coefficient returns the finalized correlation coefficient.
func (m *MomentAccumulator) Coefficient() float64 {
	return m.coefficient
}

// Count returns the number of rows accumulated.
func (m *MomentAccumulator) Count() int64 {
	return m.count
}
