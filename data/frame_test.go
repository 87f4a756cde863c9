package data

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, cols ...*Column) *Frame {
	t.Helper()
	f, err := NewFrame(cols...)
	require.NoError(t, err)
	return f
}

func TestNewFrameRejectsUnequalLengths(t *testing.T) {
	_, err := NewFrame(
		NewNumericColumn("a", []float64{1, 2}),
		NewNumericColumn("b", []float64{1}),
	)
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewFrame(nil)
	assert.Error(t, err)
}

func TestFrameSameColumns(t *testing.T) {
	a := NewNumericColumn("a", []float64{1, 2})
	b := NewNumericColumn("b", []float64{3, 4})

	f1 := mustFrame(t, a, b)
	f2 := mustFrame(t, a, b)
	assert.True(t, f1.SameColumns(f2))

	// Identical content but different identity.
	f3 := mustFrame(t, a.Copy(), b)
	assert.False(t, f1.SameColumns(f3))

	f4 := mustFrame(t, b, a)
	assert.False(t, f1.SameColumns(f4))
	assert.False(t, f1.SameColumns(nil))
}

func TestFrameHasMissingAndSelect(t *testing.T) {
	f := mustFrame(t,
		NewNumericColumn("a", []float64{1, 2}),
		NewNumericColumn("b", []float64{math.NaN(), 4}),
	)
	assert.True(t, f.HasMissing())
	assert.Equal(t, []string{"a", "b"}, f.Names())

	sel, err := f.Select(0)
	require.NoError(t, err)
	assert.False(t, sel.HasMissing())

	_, err = f.Select(5)
	assert.Error(t, err)
}

func TestFrameRecordRoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()
	cat, err := NewCategoricalColumn("c", []int{0, 1, -1}, []string{"x", "y"})
	require.NoError(t, err)
	f := mustFrame(t, NewNumericColumn("n", []float64{1.5, math.NaN(), 3}), cat)

	rec := f.ToRecord(mem)
	defer rec.Release()
	assert.Equal(t, int64(3), rec.NumRows())
	assert.Equal(t, int64(2), rec.NumCols())

	back, err := FrameFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "c"}, back.Names())
	assert.True(t, back.Column(0).IsNA(1))
	assert.True(t, back.Column(1).IsCategorical())
}

func TestFrameFromRecordsConcatenates(t *testing.T) {
	mem := memory.NewGoAllocator()

	first, err := NewCategoricalColumn("c", []int{0, 1}, []string{"a", "b"})
	require.NoError(t, err)
	second, err := NewCategoricalColumn("c", []int{0, 1}, []string{"b", "c"})
	require.NoError(t, err)

	r1 := mustFrame(t, first).ToRecord(mem)
	defer r1.Release()
	r2 := mustFrame(t, second).ToRecord(mem)
	defer r2.Release()

	f, err := FrameFromRecords([]arrow.Record{r1, r2})
	require.NoError(t, err)

	col := f.Column(0)
	assert.Equal(t, 4, f.NumRows())
	assert.Equal(t, []string{"a", "b", "c"}, col.Domain())
	assert.Equal(t, []float64{0, 1, 1, 2}, col.Values())
}

func TestMatrixRecordRoundTrip(t *testing.T) {
	m, err := NewMatrix([]string{"a", "b"}, []string{"c", "d"})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.At(0, 1)))

	m.Set(0, 0, 1)
	m.Set(0, 1, 0.5)
	m.Set(1, 0, -0.25)

	rec := m.ToRecord(memory.NewGoAllocator())
	defer rec.Release()
	require.NoError(t, ValidateSchema(rec, MatrixSchema([]string{"c", "d"})))

	back, err := MatrixFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, back.RowNames())
	assert.Equal(t, []string{"c", "d"}, back.ColNames())
	assert.Equal(t, 0.5, back.At(0, 1))
	assert.Equal(t, -0.25, back.At(1, 0))
	assert.True(t, math.IsNaN(back.At(1, 1)))
}

func TestNewMatrixMustBeSquare(t *testing.T) {
	_, err := NewMatrix([]string{"a"}, []string{"b", "c"})
	assert.Error(t, err)
}

func TestRequestRecordSplit(t *testing.T) {
	mem := memory.NewGoAllocator()
	x := mustFrame(t, NewNumericColumn("a", []float64{1, 2, 3}))
	y := mustFrame(t, NewNumericColumn("b", []float64{3, 2, 1}))

	t.Run("two datasets", func(t *testing.T) {
		rec, err := RequestRecord(mem, x, y, "all.obs")
		require.NoError(t, err)
		defer rec.Release()

		gx, gy, mode, err := SplitRequest([]arrow.Record{rec})
		require.NoError(t, err)
		assert.Equal(t, "all.obs", mode)
		assert.Equal(t, []string{"a"}, gx.Names())
		assert.Equal(t, []string{"b"}, gy.Names())
		assert.False(t, gx.SameColumns(gy))
	})

	t.Run("self correlation", func(t *testing.T) {
		rec, err := RequestRecord(mem, x, x, "everything")
		require.NoError(t, err)
		defer rec.Release()

		gx, gy, _, err := SplitRequest([]arrow.Record{rec})
		require.NoError(t, err)
		assert.True(t, gx.SameColumns(gy))
	})

	t.Run("row mismatch", func(t *testing.T) {
		short := mustFrame(t, NewNumericColumn("s", []float64{1}))
		_, err := RequestRecord(mem, x, short, "everything")
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})
}

func TestIPCRoundTrip(t *testing.T) {
	for _, compression := range []string{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression, func(t *testing.T) {
			w, err := NewIPCWriter(compression)
			require.NoError(t, err)

			f := mustFrame(t, NewNumericColumn("x", []float64{1, 2, math.NaN()}))
			rec := f.ToRecord(nil)
			defer rec.Release()

			payload, err := w.SerializeToIPC(rec)
			require.NoError(t, err)

			back, err := w.DeserializeFromIPC(payload)
			require.NoError(t, err)
			defer back.Release()
			assert.Equal(t, int64(3), back.NumRows())
		})
	}

	_, err := NewIPCWriter("brotli")
	assert.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	doc := "a,b,label\n1,4,x\n2,NA,y\n3,6,x\n"
	f, err := ReadCSV(strings.NewReader(doc))
	require.NoError(t, err)

	require.Equal(t, 3, f.NumCols())
	assert.Equal(t, 3, f.NumRows())
	assert.Equal(t, []float64{1, 2, 3}, f.Column(0).Values())
	assert.True(t, f.Column(1).IsNA(1))
	assert.True(t, f.Column(2).IsCategorical())
	assert.Equal(t, []string{"x", "y"}, f.Column(2).Domain())
}

func TestLoadFrame(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,2\n3,4\n"), 0o600))
	f, err := LoadFrame(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 2, f.NumRows())

	jsonPath := filepath.Join(dir, "data.json")
	doc := `{"columns":[{"name":"a","values":[1,null,3]},{"name":"c","levels":["lo","hi"],"codes":[1,0,null]}]}`
	require.NoError(t, os.WriteFile(jsonPath, []byte(doc), 0o600))
	f, err = LoadFrame(jsonPath)
	require.NoError(t, err)
	assert.True(t, f.Column(0).IsNA(1))
	assert.True(t, f.Column(1).IsCategorical())

	w, err := NewIPCWriter(CompressionNone)
	require.NoError(t, err)
	rec := f.ToRecord(nil)
	defer rec.Release()
	payload, err := w.SerializeToIPC(rec)
	require.NoError(t, err)
	ipcPath := filepath.Join(dir, "data.arrows")
	require.NoError(t, os.WriteFile(ipcPath, payload, 0o600))
	f, err = LoadFrame(ipcPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, f.Names())

	_, err = LoadFrame(filepath.Join(dir, "data.parquet"))
	assert.Error(t, err)
}
