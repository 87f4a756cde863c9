package data

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Compression names accepted by NewIPCWriter.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// IPCWriter writes Arrow records to the IPC stream format and reads them back.
type IPCWriter struct {
	allocator   memory.Allocator
	compression string
}

// NewIPCWriter creates a new IPCWriter with the given body compression
// ("none", "lz4" or "zstd").
func NewIPCWriter(compression string) (*IPCWriter, error) {
	c := strings.ToLower(compression)
	switch c {
	case "", CompressionNone:
		c = CompressionNone
	case CompressionLZ4, CompressionZstd:
	default:
		return nil, fmt.Errorf("unknown IPC compression %q", compression)
	}
	return &IPCWriter{
		allocator:   memory.DefaultAllocator,
		compression: c,
	}, nil
}

func (w *IPCWriter) writerOptions(schema *arrow.Schema) []ipc.Option {
	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(w.allocator)}
	switch w.compression {
	case CompressionLZ4:
		opts = append(opts, ipc.WithLZ4())
	case CompressionZstd:
		opts = append(opts, ipc.WithZstd())
	}
	return opts
}

// SerializeToIPC serializes an Arrow Record to IPC bytes.
func (w *IPCWriter) SerializeToIPC(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	writer := ipc.NewWriter(&buf, w.writerOptions(record.Schema())...)
	defer writer.Close()

	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write record: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializeAllFromIPC deserializes IPC bytes to all Arrow Records.
// The caller must Release every returned record.
func (w *IPCWriter) DeserializeAllFromIPC(data []byte) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(w.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	if reader.Err() != nil {
		// Release any records we've already retained
		for _, r := range records {
			r.Release()
		}
		return nil, reader.Err()
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no records in IPC data")
	}

	return records, nil
}

// DeserializeFromIPC deserializes the first record of an IPC stream.
func (w *IPCWriter) DeserializeFromIPC(data []byte) (arrow.Record, error) {
	records, err := w.DeserializeAllFromIPC(data)
	if err != nil {
		return nil, err
	}
	for _, r := range records[1:] {
		r.Release()
	}
	return records[0], nil
}

// ReleaseAll releases every record.
func ReleaseAll(records []arrow.Record) {
	for _, r := range records {
		r.Release()
	}
}
