package data

import (
	"bytes"
	stdcsv "encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// nullTokens are the CSV cells read as missing values.
var nullTokens = []string{"", "NA", "NaN", "nan", "null", "NULL"}

// LoadFrame reads a dataset from disk. The format follows the extension:
// .arrows/.ipc/.stream (Arrow IPC stream), .arrow/.feather (Arrow IPC file),
// .csv and .json.
func LoadFrame(path string) (*Frame, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var f *Frame
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".arrows", ".ipc", ".stream":
		f, err = readIPCStream(raw)
	case ".arrow", ".feather":
		f, err = readIPCFile(raw)
	case ".csv":
		f, err = ReadCSV(bytes.NewReader(raw))
	case ".json":
		var rec arrow.Record
		rec, err = NewConverter().JSONToRecord(raw)
		if err == nil {
			defer rec.Release()
			f, err = FrameFromRecord(rec)
		}
	default:
		return nil, fmt.Errorf("unsupported dataset extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return f, nil
}

func readIPCStream(raw []byte) (*Frame, error) {
	w, _ := NewIPCWriter(CompressionNone)
	records, err := w.DeserializeAllFromIPC(raw)
	if err != nil {
		return nil, err
	}
	defer ReleaseAll(records)
	return FrameFromRecords(records)
}

func readIPCFile(raw []byte) (*Frame, error) {
	reader, err := ipc.NewFileReader(bytes.NewReader(raw), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("failed to open IPC file: %w", err)
	}
	defer reader.Close()

	records := make([]arrow.Record, 0, reader.NumRecords())
	defer func() { ReleaseAll(records) }()
	for i := 0; i < reader.NumRecords(); i++ {
		rec, err := reader.Record(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", i, err)
		}
		rec.Retain()
		records = append(records, rec)
	}
	return FrameFromRecords(records)
}

// ReadCSV reads a CSV document with a header row. Every column is read as
// text first; columns whose values all parse as numbers become numeric,
// the rest become categorical.
func ReadCSV(r io.Reader) (*Frame, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	header, err := stdcsv.NewReader(bytes.NewReader(raw)).Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	fields := make([]arrow.Field, len(header))
	for i, name := range header {
		fields[i] = arrow.Field{Name: strings.TrimSpace(name), Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	reader := csv.NewReader(bytes.NewReader(raw), schema,
		csv.WithHeader(true),
		csv.WithNullReader(true, nullTokens...),
		csv.WithChunk(-1),
	)
	defer reader.Release()

	var records []arrow.Record
	defer func() { ReleaseAll(records) }()
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		columns := make([]*Column, len(header))
		for i := range columns {
			columns[i] = NewNumericColumn(fields[i].Name, nil)
		}
		return NewFrame(columns...)
	}
	return FrameFromRecords(records)
}
