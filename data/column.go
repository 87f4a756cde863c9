package data

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
)

// ErrLengthMismatch is returned by bulk writes whose length differs from the column.
var ErrLengthMismatch = errors.New("length mismatch")

// Column is a named vector of observations. NaN marks a missing value.
//
// A categorical column stores level codes (0..len(domain)-1) as float64.
// Every column carries an identity key; two columns are the same column
// only if their keys match, regardless of content.
type Column struct {
	key    string
	name   string
	values []float64
	domain []string
}

// NewNumericColumn creates a numeric column holding a copy of values.
func NewNumericColumn(name string, values []float64) *Column {
	return &Column{
		key:    uuid.NewString(),
		name:   name,
		values: slices.Clone(values),
	}
}

// NewCategoricalColumn creates a categorical column. Negative codes are missing.
func NewCategoricalColumn(name string, codes []int, domain []string) (*Column, error) {
	values := make([]float64, len(codes))
	for i, code := range codes {
		switch {
		case code < 0:
			values[i] = math.NaN()
		case code >= len(domain):
			return nil, fmt.Errorf("column %s: code %d at row %d outside domain of %d levels",
				name, code, i, len(domain))
		default:
			values[i] = float64(code)
		}
	}
	levels := make([]string, len(domain))
	copy(levels, domain)
	return &Column{
		key:    uuid.NewString(),
		name:   name,
		values: values,
		domain: levels,
	}, nil
}

// Key returns the identity key of the column.
func (c *Column) Key() string { return c.key }

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Len returns the number of rows.
func (c *Column) Len() int { return len(c.values) }

// At returns the value at row i (NaN when missing).
func (c *Column) At(i int) float64 { return c.values[i] }

// IsNA reports whether row i holds a missing value.
func (c *Column) IsNA(i int) bool { return math.IsNaN(c.values[i]) }

// IsCategorical reports whether the column holds level codes.
func (c *Column) IsCategorical() bool { return c.domain != nil }

// Domain returns the level names of a categorical column, nil otherwise.
func (c *Column) Domain() []string { return c.domain }

// Values exposes the backing slice. Callers must not modify it.
func (c *Column) Values() []float64 { return c.values }

// NACount returns the number of missing observations.
func (c *Column) NACount() int {
	n := 0
	for _, v := range c.values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Copy returns a deep copy with a fresh identity.
func (c *Column) Copy() *Column {
	return &Column{
		key:    uuid.NewString(),
		name:   c.name,
		values: slices.Clone(c.values),
		domain: slices.Clone(c.domain),
	}
}

// Set writes a single value.
func (c *Column) Set(i int, v float64) { c.values[i] = v }

// SetValues overwrites every row at once.
func (c *Column) SetValues(values []float64) error {
	if len(values) != len(c.values) {
		return fmt.Errorf("column %s: %w: got %d values, column has %d rows",
			c.name, ErrLengthMismatch, len(values), len(c.values))
	}
	copy(c.values, values)
	return nil
}

// ColumnFromArrow converts an Arrow array into a Column.
// Nulls become NaN. Dictionary arrays become categorical columns.
// String arrays are numeric when every value parses as a float,
// categorical with a sorted domain otherwise.
func ColumnFromArrow(name string, arr arrow.Array) (*Column, error) {
	n := arr.Len()
	values := make([]float64, n)

	switch a := arr.(type) {
	case *array.Float64:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return a.Value(i) })
		}
	case *array.Float32:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Float16:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i).Float32()) })
		}
	case *array.Int8:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Int16:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Int32:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Int64:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Uint8:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Uint16:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Uint32:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Uint64:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.Value(i)) })
		}
	case *array.Boolean:
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 {
				if a.Value(i) {
					return 1
				}
				return 0
			})
		}
	case *array.Dictionary:
		dict := a.Dictionary()
		domain := make([]string, dict.Len())
		for i := range domain {
			domain[i] = dict.ValueStr(i)
		}
		for i := 0; i < n; i++ {
			values[i] = nullOr(a, i, func(i int) float64 { return float64(a.GetValueIndex(i)) })
		}
		return &Column{key: uuid.NewString(), name: name, values: values, domain: domain}, nil
	case *array.String:
		return columnFromStrings(name, a)
	default:
		return nil, fmt.Errorf("column %s: unsupported arrow type %s", name, arr.DataType())
	}

	return &Column{key: uuid.NewString(), name: name, values: values}, nil
}

func nullOr(arr arrow.Array, i int, value func(int) float64) float64 {
	if arr.IsNull(i) {
		return math.NaN()
	}
	return value(i)
}

// columnFromStrings parses a utf8 column as numbers, falling back to
// categorical encoding with a lexicographically sorted domain.
func columnFromStrings(name string, a *array.String) (*Column, error) {
	n := a.Len()
	values := make([]float64, n)
	numeric := true
	for i := 0; i < n; i++ {
		if a.IsNull(i) {
			values[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(a.Value(i), 64)
		if err != nil {
			numeric = false
			break
		}
		values[i] = v
	}
	if numeric {
		return &Column{key: uuid.NewString(), name: name, values: values}, nil
	}

	seen := make(map[string]struct{})
	for i := 0; i < n; i++ {
		if !a.IsNull(i) {
			seen[a.Value(i)] = struct{}{}
		}
	}
	domain := make([]string, 0, len(seen))
	for level := range seen {
		domain = append(domain, level)
	}
	slices.Sort(domain)

	codes := make([]int, n)
	for i := 0; i < n; i++ {
		if a.IsNull(i) {
			codes[i] = -1
			continue
		}
		codes[i], _ = slices.BinarySearch(domain, a.Value(i))
	}
	return NewCategoricalColumn(name, codes, domain)
}

// ToArrow converts the column to a Float64 array (NaN as null) or, for
// categorical columns, a Dictionary<int32, utf8> array.
func (c *Column) ToArrow(mem memory.Allocator) arrow.Array {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	if !c.IsCategorical() {
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(len(c.values))
		for _, v := range c.values {
			if math.IsNaN(v) {
				b.AppendNull()
			} else {
				b.Append(v)
			}
		}
		return b.NewArray()
	}

	ib := array.NewInt32Builder(mem)
	defer ib.Release()
	for _, v := range c.values {
		if math.IsNaN(v) {
			ib.AppendNull()
		} else {
			ib.Append(int32(v))
		}
	}
	indices := ib.NewArray()
	defer indices.Release()

	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	sb.AppendValues(c.domain, nil)
	dict := sb.NewArray()
	defer dict.Release()

	return array.NewDictionaryArray(CategoricalType(), indices, dict)
}

// CategoricalType is the Arrow type used for categorical columns.
func CategoricalType() *arrow.DictionaryType {
	return &arrow.DictionaryType{
		IndexType: arrow.PrimitiveTypes.Int32,
		ValueType: arrow.BinaryTypes.String,
	}
}
