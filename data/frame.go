package data

import (
	"errors"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Frame is an ordered collection of columns sharing one row count.
type Frame struct {
	columns []*Column
	rows    int
}

// NewFrame creates a Frame. All columns must have the same length.
func NewFrame(columns ...*Column) (*Frame, error) {
	f := &Frame{columns: columns}
	for i, col := range columns {
		if col == nil {
			return nil, fmt.Errorf("column %d is nil", i)
		}
		if i == 0 {
			f.rows = col.Len()
			continue
		}
		if col.Len() != f.rows {
			return nil, fmt.Errorf("column %s: %w: has %d rows, expected %d",
				col.Name(), ErrLengthMismatch, col.Len(), f.rows)
		}
	}
	return f, nil
}

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.columns) }

// NumRows returns the shared row count.
func (f *Frame) NumRows() int { return f.rows }

// Column returns the i-th column.
func (f *Frame) Column(i int) *Column { return f.columns[i] }

// Columns returns the columns in order.
func (f *Frame) Columns() []*Column { return f.columns }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, col := range f.columns {
		names[i] = col.Name()
	}
	return names
}

// Select returns a frame sharing the columns at the given indices.
func (f *Frame) Select(indices ...int) (*Frame, error) {
	cols := make([]*Column, len(indices))
	for k, idx := range indices {
		if idx < 0 || idx >= len(f.columns) {
			return nil, fmt.Errorf("column index %d out of range [0,%d)", idx, len(f.columns))
		}
		cols[k] = f.columns[idx]
	}
	return NewFrame(cols...)
}

// SameColumns reports whether both frames hold the same columns, by
// identity, in the same order.
func (f *Frame) SameColumns(other *Frame) bool {
	if other == nil || len(f.columns) != len(other.columns) {
		return false
	}
	for i := range f.columns {
		if f.columns[i].Key() != other.columns[i].Key() {
			return false
		}
	}
	return true
}

// HasMissing reports whether any column holds a missing value.
func (f *Frame) HasMissing() bool {
	for _, col := range f.columns {
		if col.NACount() > 0 {
			return true
		}
	}
	return false
}

// FrameFromRecord converts a single Arrow record into a Frame.
func FrameFromRecord(rec arrow.Record) (*Frame, error) {
	if rec == nil {
		return nil, errors.New("record is nil")
	}
	return FrameFromRecords([]arrow.Record{rec})
}

// FrameFromRecords concatenates record batches sharing one schema into a Frame.
func FrameFromRecords(recs []arrow.Record) (*Frame, error) {
	if len(recs) == 0 {
		return nil, errors.New("no records")
	}

	schema := recs[0].Schema()
	columns := make([]*Column, schema.NumFields())
	for i := range columns {
		name := schema.Field(i).Name
		for b, rec := range recs {
			if !rec.Schema().Equal(schema) {
				return nil, fmt.Errorf("record %d: schema differs from record 0", b)
			}
			part, err := ColumnFromArrow(name, rec.Column(i))
			if err != nil {
				return nil, err
			}
			if columns[i] == nil {
				columns[i] = part
				continue
			}
			if err := columns[i].appendFrom(part); err != nil {
				return nil, fmt.Errorf("record %d: %w", b, err)
			}
		}
	}
	return NewFrame(columns...)
}

// appendFrom appends the rows of other, remapping categorical codes onto
// this column's domain (extending it when other carries new levels).
func (c *Column) appendFrom(other *Column) error {
	if c.IsCategorical() != other.IsCategorical() {
		return fmt.Errorf("column %s: cannot mix categorical and numeric batches", c.name)
	}
	if !c.IsCategorical() {
		c.values = append(c.values, other.values...)
		return nil
	}

	index := make(map[string]int, len(c.domain))
	for i, level := range c.domain {
		index[level] = i
	}
	remap := make([]float64, len(other.domain))
	for i, level := range other.domain {
		code, ok := index[level]
		if !ok {
			code = len(c.domain)
			c.domain = append(c.domain, level)
			index[level] = code
		}
		remap[i] = float64(code)
	}
	for _, v := range other.values {
		if math.IsNaN(v) {
			c.values = append(c.values, v)
		} else {
			c.values = append(c.values, remap[int(v)])
		}
	}
	return nil
}

// ToRecord converts the frame into an Arrow record. The caller must Release it.
func (f *Frame) ToRecord(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	fields := make([]arrow.Field, len(f.columns))
	arrays := make([]arrow.Array, len(f.columns))
	for i, col := range f.columns {
		arrays[i] = col.ToArrow(mem)
		fields[i] = arrow.Field{Name: col.Name(), Type: arrays[i].DataType(), Nullable: true}
	}
	defer func() {
		for _, arr := range arrays {
			arr.Release()
		}
	}()
	return array.NewRecord(arrow.NewSchema(fields, nil), arrays, int64(f.rows))
}
