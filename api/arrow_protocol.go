package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxMessageSize is the maximum allowed message size (50MB).
// This prevents DoS attacks via oversized messages.
const MaxMessageSize = 50 * 1024 * 1024 // 50MB

// Response status bytes.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// ErrMessageTooLarge is returned when a message exceeds the size limit.
var ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")

// ErrMalformedResponse is returned for a response without a status byte.
var ErrMalformedResponse = errors.New("malformed response")

// RemoteError carries an error message returned by the server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "server error: " + e.Message
}

// ReadMessage reads a length-prefixed message from the reader.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadMessage(r io.Reader) ([]byte, error) {
	return ReadMessageLimit(r, MaxMessageSize)
}

// ReadMessageLimit is ReadMessage with a caller-chosen size limit.
// A non-positive limit means MaxMessageSize.
func ReadMessageLimit(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = MaxMessageSize
	}

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	// Prevent DoS by limiting message size
	if uint64(length) > uint64(limit) {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, limit)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return buf, nil
}

// WriteMessage writes a length-prefixed message to the writer.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func WriteMessage(w io.Writer, data []byte) error {
	// Check for integer overflow before conversion (G115 fix)
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d exceeds uint32 max", ErrMessageTooLarge, len(data))
	}

	// Check against our limit
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	// Length prefix and payload go out in a single write.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data))) // #nosec G115 - bounds checked above
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// EncodeResponse prefixes body with a status byte.
func EncodeResponse(status byte, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = status
	copy(out[1:], body)
	return out
}

// ErrorResponse encodes err as an error response.
func ErrorResponse(err error) []byte {
	return EncodeResponse(StatusError, []byte(err.Error()))
}

// DecodeResponse splits a response into its body, turning error responses
// into a *RemoteError.
func DecodeResponse(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrMalformedResponse
	}
	switch payload[0] {
	case StatusOK:
		return payload[1:], nil
	case StatusError:
		return nil, &RemoteError{Message: string(payload[1:])}
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrMalformedResponse, payload[0])
	}
}
