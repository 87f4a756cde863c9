package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ColumnJSON is one column in JSON form. Numeric columns use Values;
// categorical columns use Levels and Codes. null marks a missing value.
type ColumnJSON struct {
	Name   string     `json:"name"`
	Values []*float64 `json:"values,omitempty"`
	Levels []string   `json:"levels,omitempty"`
	Codes  []*int     `json:"codes,omitempty"`
}

// FrameJSON is a dataset in JSON form.
type FrameJSON struct {
	Columns []ColumnJSON `json:"columns"`
}

// MatrixJSON is a correlation matrix in JSON form; NaN cells are null.
type MatrixJSON struct {
	Rows    []string     `json:"rows"`
	Columns []string     `json:"columns"`
	Values  [][]*float64 `json:"values"`
}

// Converter handles JSON to Arrow conversion.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{
		allocator: memory.DefaultAllocator,
	}
}

// JSONToRecord converts a FrameJSON document into an Arrow record.
func (c *Converter) JSONToRecord(jsonData []byte) (arrow.Record, error) {
	var doc FrameJSON
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return c.FrameJSONToRecord(doc)
}

// FrameJSONToRecord builds an Arrow record from a decoded FrameJSON.
func (c *Converter) FrameJSONToRecord(doc FrameJSON) (arrow.Record, error) {
	if len(doc.Columns) == 0 {
		return nil, errors.New("empty columns slice")
	}

	rows := -1
	fields := make([]arrow.Field, 0, len(doc.Columns))
	arrays := make([]arrow.Array, 0, len(doc.Columns))
	defer func() {
		for _, arr := range arrays {
			arr.Release()
		}
	}()

	for i, col := range doc.Columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		var arr arrow.Array
		var err error
		if col.Levels != nil || col.Codes != nil {
			arr, err = c.categoricalArray(col)
		} else {
			arr = c.numericArray(col)
		}
		if err != nil {
			return nil, err
		}
		arrays = append(arrays, arr)
		fields = append(fields, arrow.Field{Name: col.Name, Type: arr.DataType(), Nullable: true})

		if rows >= 0 && arr.Len() != rows {
			return nil, fmt.Errorf("column %s: %w: has %d rows, expected %d", col.Name, ErrLengthMismatch, arr.Len(), rows)
		}
		rows = arr.Len()
	}

	return array.NewRecord(arrow.NewSchema(fields, nil), arrays, int64(rows)), nil
}

func (c *Converter) numericArray(col ColumnJSON) arrow.Array {
	b := array.NewFloat64Builder(c.allocator)
	defer b.Release()
	for _, v := range col.Values {
		if v == nil {
			b.AppendNull()
		} else {
			b.Append(*v)
		}
	}
	return b.NewArray()
}

func (c *Converter) categoricalArray(col ColumnJSON) (arrow.Array, error) {
	ib := array.NewInt32Builder(c.allocator)
	defer ib.Release()
	for row, code := range col.Codes {
		switch {
		case code == nil:
			ib.AppendNull()
		case *code < 0 || *code >= len(col.Levels):
			return nil, fmt.Errorf("column %s: code %d at row %d outside %d levels", col.Name, *code, row, len(col.Levels))
		default:
			ib.Append(int32(*code))
		}
	}
	indices := ib.NewArray()
	defer indices.Release()

	sb := array.NewStringBuilder(c.allocator)
	defer sb.Release()
	sb.AppendValues(col.Levels, nil)
	dict := sb.NewArray()
	defer dict.Release()

	return array.NewDictionaryArray(CategoricalType(), indices, dict), nil
}

// MatrixToJSON converts a correlation matrix to JSON bytes.
func (c *Converter) MatrixToJSON(m *Matrix) ([]byte, error) {
	if m == nil {
		return nil, errors.New("matrix is nil")
	}
	return json.Marshal(MatrixToDocument(m))
}

// MatrixToDocument converts a matrix to its JSON document form.
func MatrixToDocument(m *Matrix) MatrixJSON {
	doc := MatrixJSON{
		Rows:    m.RowNames(),
		Columns: m.ColNames(),
		Values:  make([][]*float64, m.Dim()),
	}
	for i := 0; i < m.Dim(); i++ {
		row := make([]*float64, m.Dim())
		for j := range row {
			v := m.At(i, j)
			if !math.IsNaN(v) {
				row[j] = &v
			}
		}
		doc.Values[i] = row
	}
	return doc
}
