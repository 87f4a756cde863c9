package api

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello")))
	assert.Equal(t, []byte{0, 0, 0, 5}, buf.Bytes()[:4])

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestReadMessageLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, make([]byte, 32)))

	_, err := ReadMessageLimit(&buf, 16)
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = ReadMessage(bytes.NewReader([]byte{0, 0, 0, 10, 1, 2}))
	assert.Error(t, err, "truncated body")
}

func TestWriteMessageTooLarge(t *testing.T) {
	err := WriteMessage(&bytes.Buffer{}, make([]byte, MaxMessageSize+1))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestResponseEncoding(t *testing.T) {
	body, err := DecodeResponse(EncodeResponse(StatusOK, []byte("matrix")))
	require.NoError(t, err)
	assert.Equal(t, []byte("matrix"), body)

	_, err = DecodeResponse(ErrorResponse(assert.AnError))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, assert.AnError.Error(), remote.Message)

	_, err = DecodeResponse(nil)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	_, err = DecodeResponse([]byte{7})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
