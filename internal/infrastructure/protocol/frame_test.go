package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameBytes(t *testing.T, version uint32, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := WriteFrame(&buf, version, payload)
	require.NoError(t, err)
	require.Equal(t, HeaderSize+len(payload), n)
	return buf.Bytes()
}

func TestHeader_EncodeDecode(t *testing.T) {
	h := Header{Version: 1, PayloadLen: 0x01020304}
	enc := EncodeHeader(h)

	assert.Equal(t, []byte{0, 0, 0, 1, 1, 2, 3, 4}, enc[:])

	got, err := DecodeHeader(enc[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = DecodeHeader(enc[:5])
	assert.Error(t, err)
}

func TestDecoder_RoundTrip(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frameBytes(t, 1, []byte("hello")))
	stream.Write(frameBytes(t, 1, nil))
	stream.Write(frameBytes(t, 1, []byte("world")))

	dec := NewDecoder(&stream, NewVersionSet(1), 1024)

	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), f.Payload)

	f, err = dec.Next()
	require.NoError(t, err)
	assert.Empty(t, f.Payload)

	f, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), f.Payload)

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestDecoder_UnsupportedVersionKeepsAlignment(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frameBytes(t, 9, []byte("ignored payload")))
	stream.Write(frameBytes(t, 1, []byte("next")))

	dec := NewDecoder(&stream, NewVersionSet(1), 1024)

	f, err := dec.Next()
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Equal(t, uint32(9), f.Header.Version)

	f, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), f.Payload)
}

func TestDecoder_OversizePayloadDiscarded(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frameBytes(t, 1, bytes.Repeat([]byte{0xAB}, 64)))
	stream.Write(frameBytes(t, 1, []byte("ok")))

	dec := NewDecoder(&stream, NewVersionSet(1), 16)

	f, err := dec.Next()
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, uint32(64), f.Header.PayloadLen)

	f, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), f.Payload)
}

func TestDecoder_PeerClosed(t *testing.T) {
	full := frameBytes(t, 1, []byte("payload"))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty stream", nil},
		{"partial header", full[:3]},
		{"header only", full[:HeaderSize]},
		{"partial payload", full[:HeaderSize+2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(bytes.NewReader(tt.data), NewVersionSet(1), 1024)
			_, err := dec.Next()
			assert.ErrorIs(t, err, ErrPeerClosed)
		})
	}
}

func TestDecoder_UnsupportedVersionTruncatedPayload(t *testing.T) {
	full := frameBytes(t, 5, []byte("payload"))
	dec := NewDecoder(bytes.NewReader(full[:HeaderSize+1]), NewVersionSet(1), 1024)

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestDecoder_PassesThroughTransportErrors(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	dec := NewDecoder(server, NewVersionSet(1), 1024)

	_, err := dec.Next()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPeerClosed))

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestWriteFrame_SingleWrite(t *testing.T) {
	w := &countingWriter{}
	_, err := WriteFrame(w, 1, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, HeaderSize+3, w.n)
}

func TestVersionSet(t *testing.T) {
	vs := NewVersionSet(1, 3)
	assert.True(t, vs.Supports(1))
	assert.True(t, vs.Supports(3))
	assert.False(t, vs.Supports(2))
}

type countingWriter struct {
	calls int
	n     int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	w.n += len(p)
	return len(p), nil
}

var _ io.Writer = (*countingWriter)(nil)
