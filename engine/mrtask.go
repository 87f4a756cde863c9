package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrColumnLength is returned when the columns handed to DoAll differ in length.
var ErrColumnLength = errors.New("columns must have equal length")

// Chunk is one partition of a set of equal-length columns.
type Chunk struct {
	Index int // partition number
	Start int // first global row of the partition
	cols  [][]float64
}

// NewChunk wraps equal-length column slices as a chunk. The slices are
// aliased, not copied.
func NewChunk(index, start int, cols ...[]float64) Chunk {
	return Chunk{Index: index, Start: start, cols: cols}
}

// Len returns the number of rows in the chunk.
func (c Chunk) Len() int {
	if len(c.cols) == 0 {
		return 0
	}
	return len(c.cols[0])
}

// NumCols returns the number of columns in the chunk.
func (c Chunk) NumCols() int {
	return len(c.cols)
}

// At returns the value at a chunk-local row of column col.
func (c Chunk) At(col, row int) float64 {
	return c.cols[col][row]
}

// Col returns the chunk's slice of column i. It aliases the source column
// and must not be modified.
func (c Chunk) Col(i int) []float64 {
	return c.cols[i]
}

// MRTask is a map/reduce computation over the rows of a set of columns.
// Map consumes one chunk; Reduce folds another partial result into the
// receiver. Partials are reduced in completion order, so Reduce must be
// associative and commutative.
type MRTask[T any] interface {
	Map(Chunk)
	Reduce(T)
}

// Finalizer is implemented by tasks that need one pass after all partials
// have been merged.
type Finalizer interface {
	PostGlobal()
}

// Runner executes map/reduce tasks over partitioned columns.
type Runner struct {
	pool          *WorkerPool
	partitionRows int
}

// NewRunner creates a runner. A nil pool runs partitions sequentially on the
// calling goroutine.
func NewRunner(pool *WorkerPool, partitionRows int) *Runner {
	if partitionRows <= 0 {
		partitionRows = DefaultPartitionRows
	}
	return &Runner{pool: pool, partitionRows: partitionRows}
}

// PartitionRows returns the configured partition size.
func (r *Runner) PartitionRows() int {
	if r == nil {
		return DefaultPartitionRows
	}
	return r.partitionRows
}

// Pool returns the runner's worker pool, or nil for a sequential runner.
func (r *Runner) Pool() *WorkerPool {
	if r == nil {
		return nil
	}
	return r.pool
}

// DoAll runs a fresh task from newTask over every partition of cols, merges
// the partial results and finalizes the merged task exactly once.
// With no rows, the returned task is a finalized fresh instance.
func DoAll[T MRTask[T]](ctx context.Context, r *Runner, newTask func() T, cols ...[]float64) (T, error) {
	var zero T

	rows, err := commonLength(cols)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	parts := Partitions(rows, r.PartitionRows())
	if len(parts) == 0 {
		t := newTask()
		finalize(t)
		return t, nil
	}

	var acc T
	if r.Pool() == nil {
		acc, err = runSequential(ctx, parts, newTask, cols)
	} else {
		acc, err = runPooled(ctx, r.pool, parts, newTask, cols)
	}
	if err != nil {
		return zero, err
	}

	finalize(acc)
	return acc, nil
}

func runSequential[T MRTask[T]](ctx context.Context, parts []Range, newTask func() T, cols [][]float64) (T, error) {
	var acc T
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return acc, err
		}
		t, err := mapChunk(newTask, chunkOf(i, part, cols))
		if err != nil {
			return acc, err
		}
		if i == 0 {
			acc = t
		} else {
			acc.Reduce(t)
		}
	}
	return acc, nil
}

func runPooled[T MRTask[T]](ctx context.Context, pool *WorkerPool, parts []Range, newTask func() T, cols [][]float64) (T, error) {
	var zero T

	// Sized so workers never block on a caller that already returned.
	reply := make(chan *Result, len(parts))
	process := func(d interface{}) (interface{}, error) {
		return mapChunk(newTask, d.(Chunk))
	}

	submitted := 0
	for i, part := range parts {
		task := NewTask(fmt.Sprintf("partition-%d", i), chunkOf(i, part, cols), process)
		task.Ctx = ctx
		task.Reply = reply
		if err := pool.SubmitWait(ctx, task); err != nil {
			return zero, err
		}
		submitted++
	}

	var acc T
	for received := 0; received < submitted; received++ {
		select {
		case res := <-reply:
			if res.Error != nil {
				return zero, fmt.Errorf("%s: %w", res.TaskID, res.Error)
			}
			t := res.Data.(T)
			if received == 0 {
				acc = t
			} else {
				acc.Reduce(t)
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-pool.Done():
			return zero, ErrPoolClosed
		}
	}
	return acc, nil
}

// mapChunk runs Map on a fresh task, turning a panic into an error.
func mapChunk[T MRTask[T]](newTask func() T, c Chunk) (t T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic in map: " + panicToString(r))
		}
	}()
	t = newTask()
	t.Map(c)
	return t, nil
}

func finalize(t any) {
	if f, ok := t.(Finalizer); ok {
		f.PostGlobal()
	}
}

func chunkOf(index int, part Range, cols [][]float64) Chunk {
	sub := make([][]float64, len(cols))
	for i, col := range cols {
		sub[i] = col[part.Start:part.End]
	}
	return NewChunk(index, part.Start, sub...)
}

func commonLength(cols [][]float64) (int, error) {
	if len(cols) == 0 {
		return 0, nil
	}
	rows := len(cols[0])
	for i, col := range cols[1:] {
		if len(col) != rows {
			return 0, fmt.Errorf("%w: column %d has %d rows, want %d", ErrColumnLength, i+1, len(col), rows)
		}
	}
	return rows, nil
}
