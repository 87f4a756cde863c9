package api

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// Codec converts correlation requests and matrix responses to and from
// Arrow IPC payloads. It is shared by the server and the clients.
type Codec struct {
	mem memory.Allocator
	ipc *data.IPCWriter
}

// NewCodec creates a Codec writing IPC bodies with the given compression.
func NewCodec(compression string) (*Codec, error) {
	w, err := data.NewIPCWriter(compression)
	if err != nil {
		return nil, err
	}
	return &Codec{mem: memory.NewGoAllocator(), ipc: w}, nil
}

// EncodeRequest packs x, y and the mode into an IPC request payload.
func (c *Codec) EncodeRequest(x, y *data.Frame, mode spearman.Mode) ([]byte, error) {
	rec, err := data.RequestRecord(c.mem, x, y, mode.String())
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	return c.ipc.SerializeToIPC(rec)
}

// DecodeRequest unpacks a request payload. The mode is returned as sent,
// "" when the request did not name one.
func (c *Codec) DecodeRequest(payload []byte) (x, y *data.Frame, mode string, err error) {
	if len(payload) == 0 {
		return nil, nil, "", fmt.Errorf("received empty data")
	}
	records, err := c.ipc.DeserializeAllFromIPC(payload)
	if err != nil {
		return nil, nil, "", err
	}
	defer data.ReleaseAll(records)
	return data.SplitRequest(records)
}

// EncodeMatrix serialises a correlation matrix.
func (c *Codec) EncodeMatrix(m *data.Matrix) ([]byte, error) {
	rec := m.ToRecord(c.mem)
	defer rec.Release()
	return c.ipc.SerializeToIPC(rec)
}

// DecodeMatrix parses a serialised correlation matrix.
func (c *Codec) DecodeMatrix(body []byte) (*data.Matrix, error) {
	rec, err := c.ipc.DeserializeFromIPC(body)
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	return data.MatrixFromRecord(rec)
}

// DecodeMatrixResponse decodes a full response payload (status byte and body).
func (c *Codec) DecodeMatrixResponse(payload []byte) (*data.Matrix, error) {
	body, err := DecodeResponse(payload)
	if err != nil {
		return nil, err
	}
	return c.DecodeMatrix(body)
}
