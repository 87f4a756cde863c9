package api

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// BenchmarkProcessBatch_1000 benchmarks a 4x4 matrix over 1000 rows.
func BenchmarkProcessBatch_1000(b *testing.B) {
	benchmarkProcessBatch(b, 1000, 4)
}

// BenchmarkProcessBatch_100000 benchmarks a 4x4 matrix over 100000 rows.
func BenchmarkProcessBatch_100000(b *testing.B) {
	benchmarkProcessBatch(b, 100000, 4)
}

// BenchmarkProcessBatch_Wide benchmarks a 32x32 matrix over 1000 rows.
func BenchmarkProcessBatch_Wide(b *testing.B) {
	benchmarkProcessBatch(b, 1000, 32)
}

func benchmarkProcessBatch(b *testing.B, rows, cols int) {
	pool := engine.NewWorkerPool("bench", 8)
	defer pool.Shutdown()

	calc := spearman.NewCalculator(spearman.WithRunner(engine.NewRunner(pool, 16384)))
	h := NewArrowHandler(calc)

	payload := createTestRequest(b, rows, cols)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := h.ProcessBatch(ctx, payload); err != nil {
			b.Errorf("ProcessBatch failed: %v", err)
		}
	}

	b.ReportMetric(float64(cols*cols*b.N)/b.Elapsed().Seconds(), "cells/sec")
}

func createTestRequest(b *testing.B, rows, cols int) []byte {
	rng := rand.New(rand.NewSource(1))
	xs := make([]*data.Column, cols)
	ys := make([]*data.Column, cols)
	for c := range xs {
		xv := make([]float64, rows)
		yv := make([]float64, rows)
		for r := range xv {
			xv[r] = rng.Float64()
			yv[r] = xv[r] + rng.NormFloat64()
		}
		xs[c] = data.NewNumericColumn(fmt.Sprintf("x%d", c), xv)
		ys[c] = data.NewNumericColumn(fmt.Sprintf("y%d", c), yv)
	}
	x, err := data.NewFrame(xs...)
	if err != nil {
		b.Fatalf("NewFrame failed: %v", err)
	}
	y, err := data.NewFrame(ys...)
	if err != nil {
		b.Fatalf("NewFrame failed: %v", err)
	}

	codec, err := NewCodec(data.CompressionNone)
	if err != nil {
		b.Fatalf("NewCodec failed: %v", err)
	}
	payload, err := codec.EncodeRequest(x, y, spearman.Everything)
	if err != nil {
		b.Fatalf("EncodeRequest failed: %v", err)
	}
	return payload
}
