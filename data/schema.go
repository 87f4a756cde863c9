// Package data provides the columnar dataset model used by the correlation
// engine, with Apache Arrow as the interchange format.
package data

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Schema metadata keys understood on correlation requests.
const (
	// MetaMode carries the missing-data mode name.
	MetaMode = "spearman.mode"
	// MetaXColumns carries the number of leading columns forming the primary dataset.
	MetaXColumns = "spearman.x_columns"
)

// MatrixSchema returns the Arrow schema of an encoded correlation matrix.
//
// Fields:
//   - column: utf8 - primary column name of the row
//   - one float64 field per secondary column
func MatrixSchema(colNames []string) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(colNames)+1)
	fields = append(fields, arrow.Field{Name: MatrixRowField, Type: arrow.BinaryTypes.String})
	for _, name := range colNames {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// RequestMetadata builds the schema metadata of a correlation request.
// xColumns <= 0 means the record holds one dataset correlated with itself.
func RequestMetadata(mode string, xColumns int) arrow.Metadata {
	kv := map[string]string{MetaMode: mode}
	if xColumns > 0 {
		kv[MetaXColumns] = strconv.Itoa(xColumns)
	}
	return arrow.MetadataFrom(kv)
}

// SplitRequest splits a request record set into the primary and secondary
// frames using MetaXColumns, and returns the requested mode name ("" when absent).
// Without MetaXColumns both frames are the same columns.
func SplitRequest(recs []arrow.Record) (x, y *Frame, mode string, err error) {
	if len(recs) == 0 {
		return nil, nil, "", errors.New("request holds no record batches")
	}
	md := recs[0].Schema().Metadata()
	mode, _ = md.GetValue(MetaMode)

	all, err := FrameFromRecords(recs)
	if err != nil {
		return nil, nil, "", err
	}

	raw, ok := md.GetValue(MetaXColumns)
	if !ok {
		return all, all, mode, nil
	}
	split, err := strconv.Atoi(raw)
	if err != nil || split <= 0 || split > all.NumCols() {
		return nil, nil, "", fmt.Errorf("invalid %s %q for %d columns", MetaXColumns, raw, all.NumCols())
	}

	xi := make([]int, split)
	for i := range xi {
		xi[i] = i
	}
	yi := make([]int, all.NumCols()-split)
	for i := range yi {
		yi[i] = split + i
	}
	if x, err = all.Select(xi...); err != nil {
		return nil, nil, "", err
	}
	if y, err = all.Select(yi...); err != nil {
		return nil, nil, "", err
	}
	return x, y, mode, nil
}

// RequestRecord packs a correlation request into one record. When y holds the
// same columns as x only x is written and MetaXColumns is omitted.
// The caller must Release the record.
func RequestRecord(mem memory.Allocator, x, y *Frame, mode string) (arrow.Record, error) {
	if x == nil || y == nil {
		return nil, errors.New("frames must not be nil")
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	cols := x.Columns()
	xColumns := 0
	if !x.SameColumns(y) {
		if x.NumRows() != y.NumRows() {
			return nil, fmt.Errorf("%w: x has %d rows, y has %d", ErrLengthMismatch, x.NumRows(), y.NumRows())
		}
		cols = append(append([]*Column{}, x.Columns()...), y.Columns()...)
		xColumns = x.NumCols()
	}

	fields := make([]arrow.Field, len(cols))
	arrays := make([]arrow.Array, len(cols))
	for i, col := range cols {
		arrays[i] = col.ToArrow(mem)
		fields[i] = arrow.Field{Name: col.Name(), Type: arrays[i].DataType(), Nullable: true}
	}
	defer func() {
		for _, arr := range arrays {
			arr.Release()
		}
	}()

	md := RequestMetadata(mode, xColumns)
	return array.NewRecord(arrow.NewSchema(fields, &md), arrays, int64(x.NumRows())), nil
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
