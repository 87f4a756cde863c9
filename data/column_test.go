package data

import (
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericColumn(t *testing.T) {
	src := []float64{1, math.NaN(), 3}
	col := NewNumericColumn("x", src)

	src[0] = 100
	assert.Equal(t, 1.0, col.At(0), "constructor must copy its input")
	assert.Equal(t, 3, col.Len())
	assert.True(t, col.IsNA(1))
	assert.Equal(t, 1, col.NACount())
	assert.False(t, col.IsCategorical())
	assert.NotEmpty(t, col.Key())
}

func TestColumnCopyHasNewIdentity(t *testing.T) {
	col := NewNumericColumn("x", []float64{1, 2, 3})
	cp := col.Copy()

	assert.NotEqual(t, col.Key(), cp.Key())
	assert.Equal(t, col.Name(), cp.Name())

	cp.Set(0, 42)
	assert.Equal(t, 1.0, col.At(0))
	assert.Equal(t, 42.0, cp.At(0))
}

func TestColumnSetValues(t *testing.T) {
	col := NewNumericColumn("x", []float64{1, 2, 3})

	require.NoError(t, col.SetValues([]float64{4, 5, 6}))
	assert.Equal(t, []float64{4, 5, 6}, col.Values())

	err := col.SetValues([]float64{1})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestCategoricalColumn(t *testing.T) {
	col, err := NewCategoricalColumn("c", []int{0, 1, -1, 1}, []string{"a", "b"})
	require.NoError(t, err)

	assert.True(t, col.IsCategorical())
	assert.Equal(t, []string{"a", "b"}, col.Domain())
	assert.Equal(t, 1, col.NACount())
	assert.Equal(t, 1.0, col.At(3))

	_, err = NewCategoricalColumn("c", []int{2}, []string{"a", "b"})
	assert.Error(t, err)

	empty, err := NewCategoricalColumn("c", nil, nil)
	require.NoError(t, err)
	assert.True(t, empty.IsCategorical())
}

func TestColumnFromArrowNumeric(t *testing.T) {
	mem := memory.NewGoAllocator()

	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues([]int64{3, 1, 2}, []bool{true, false, true})
	arr := b.NewArray()
	defer arr.Release()

	col, err := ColumnFromArrow("ints", arr)
	require.NoError(t, err)
	assert.Equal(t, 3.0, col.At(0))
	assert.True(t, col.IsNA(1))
	assert.Equal(t, 2.0, col.At(2))
}

func TestColumnFromArrowBoolean(t *testing.T) {
	mem := memory.NewGoAllocator()

	b := array.NewBooleanBuilder(mem)
	defer b.Release()
	b.AppendValues([]bool{true, false}, nil)
	b.AppendNull()
	arr := b.NewArray()
	defer arr.Release()

	col, err := ColumnFromArrow("flags", arr)
	require.NoError(t, err)
	assert.Equal(t, 1.0, col.At(0))
	assert.Equal(t, 0.0, col.At(1))
	assert.True(t, col.IsNA(2))
}

func TestColumnFromArrowDictionary(t *testing.T) {
	mem := memory.NewGoAllocator()

	ib := array.NewInt32Builder(mem)
	defer ib.Release()
	ib.AppendValues([]int32{1, 0, 1}, nil)
	ib.AppendNull()
	indices := ib.NewArray()
	defer indices.Release()

	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	sb.AppendValues([]string{"low", "high"}, nil)
	dict := sb.NewArray()
	defer dict.Release()

	arr := array.NewDictionaryArray(CategoricalType(), indices, dict)
	defer arr.Release()

	col, err := ColumnFromArrow("level", arr)
	require.NoError(t, err)
	assert.True(t, col.IsCategorical())
	assert.Equal(t, []string{"low", "high"}, col.Domain())
	assert.Equal(t, []float64{1, 0, 1}, col.Values()[:3])
	assert.True(t, col.IsNA(3))
}

func TestColumnFromArrowStrings(t *testing.T) {
	mem := memory.NewGoAllocator()

	t.Run("numeric text", func(t *testing.T) {
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues([]string{"1.5", "2"}, nil)
		b.AppendNull()
		arr := b.NewArray()
		defer arr.Release()

		col, err := ColumnFromArrow("n", arr)
		require.NoError(t, err)
		assert.False(t, col.IsCategorical())
		assert.Equal(t, 1.5, col.At(0))
		assert.True(t, col.IsNA(2))
	})

	t.Run("labels", func(t *testing.T) {
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues([]string{"pear", "apple", "pear"}, nil)
		arr := b.NewArray()
		defer arr.Release()

		col, err := ColumnFromArrow("fruit", arr)
		require.NoError(t, err)
		assert.True(t, col.IsCategorical())
		assert.Equal(t, []string{"apple", "pear"}, col.Domain())
		assert.Equal(t, []float64{1, 0, 1}, col.Values())
	})
}

func TestColumnFromArrowUnsupported(t *testing.T) {
	mem := memory.NewGoAllocator()
	b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer b.Release()
	b.Append([]byte("x"))
	arr := b.NewArray()
	defer arr.Release()

	_, err := ColumnFromArrow("bin", arr)
	assert.Error(t, err)
}

func TestColumnToArrowRoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()

	num := NewNumericColumn("x", []float64{1, math.NaN(), 2})
	arr := num.ToArrow(mem)
	defer arr.Release()
	assert.Equal(t, 1, arr.NullN())

	back, err := ColumnFromArrow("x", arr)
	require.NoError(t, err)
	assert.True(t, back.IsNA(1))
	assert.Equal(t, 2.0, back.At(2))

	cat, err := NewCategoricalColumn("c", []int{1, -1, 0}, []string{"a", "b"})
	require.NoError(t, err)
	carr := cat.ToArrow(mem)
	defer carr.Release()
	assert.Equal(t, arrow.DICTIONARY, carr.DataType().ID())

	cback, err := ColumnFromArrow("c", carr)
	require.NoError(t, err)
	assert.Equal(t, cat.Domain(), cback.Domain())
	assert.Equal(t, 1.0, cback.At(0))
	assert.True(t, cback.IsNA(1))
}
