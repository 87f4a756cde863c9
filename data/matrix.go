package data

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// MatrixRowField names the utf8 field carrying row labels in a matrix record.
const MatrixRowField = "column"

// Matrix is a square correlation matrix stored row-major in one buffer.
// Cell (i, j) relates row column i to secondary column j. Every cell starts as NaN.
type Matrix struct {
	n        int
	rowNames []string
	colNames []string
	cells    []float64
}

// NewMatrix allocates an n×n matrix filled with NaN, where n = len(rowNames).
// colNames must have the same length.
func NewMatrix(rowNames, colNames []string) (*Matrix, error) {
	if len(rowNames) != len(colNames) {
		return nil, fmt.Errorf("matrix must be square: %d row names, %d column names",
			len(rowNames), len(colNames))
	}
	n := len(rowNames)
	cells := make([]float64, n*n)
	for i := range cells {
		cells[i] = math.NaN()
	}
	return &Matrix{
		n:        n,
		rowNames: slices.Clone(rowNames),
		colNames: slices.Clone(colNames),
		cells:    cells,
	}, nil
}

// Dim returns the matrix dimension.
func (m *Matrix) Dim() int { return m.n }

// At returns cell (i, j).
func (m *Matrix) At(i, j int) float64 { return m.cells[i*m.n+j] }

// Set writes cell (i, j). Distinct cells may be written concurrently.
func (m *Matrix) Set(i, j int, v float64) { m.cells[i*m.n+j] = v }

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float64 {
	return slices.Clone(m.cells[i*m.n : (i+1)*m.n])
}

// RowNames returns the primary column names.
func (m *Matrix) RowNames() []string { return m.rowNames }

// ColNames returns the secondary column names.
func (m *Matrix) ColNames() []string { return m.colNames }

// ToRecord encodes the matrix as an Arrow record: a utf8 label field followed
// by one float64 field per secondary column. NaN cells stay NaN values.
func (m *Matrix) ToRecord(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	b := array.NewRecordBuilder(mem, MatrixSchema(m.colNames))
	defer b.Release()

	labels := b.Field(0).(*array.StringBuilder)
	labels.AppendValues(m.rowNames, nil)

	col := make([]float64, m.n)
	for j := 0; j < m.n; j++ {
		for i := 0; i < m.n; i++ {
			col[i] = m.At(i, j)
		}
		b.Field(j+1).(*array.Float64Builder).AppendValues(col, nil)
	}

	return b.NewRecord()
}

// MatrixFromRecord decodes a record produced by ToRecord.
func MatrixFromRecord(rec arrow.Record) (*Matrix, error) {
	if rec == nil {
		return nil, errors.New("record is nil")
	}
	if rec.NumCols() < 1 {
		return nil, errors.New("matrix record has no columns")
	}

	labels, ok := rec.Column(0).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column 0 (%s) is not a String array", rec.ColumnName(0))
	}
	n := int(rec.NumCols()) - 1
	if int(rec.NumRows()) != n {
		return nil, fmt.Errorf("matrix record is not square: %d rows, %d value columns", rec.NumRows(), n)
	}

	rowNames := make([]string, n)
	for i := range rowNames {
		rowNames[i] = labels.Value(i)
	}
	colNames := make([]string, n)
	for j := range colNames {
		colNames[j] = rec.ColumnName(j + 1)
	}

	m, err := NewMatrix(rowNames, colNames)
	if err != nil {
		return nil, err
	}
	for j := 0; j < n; j++ {
		values, ok := rec.Column(j + 1).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("column %d (%s) is not a Float64 array", j+1, rec.ColumnName(j+1))
		}
		for i := 0; i < n; i++ {
			if !values.IsNull(i) {
				m.Set(i, j, values.Value(i))
			}
		}
	}
	return m, nil
}
