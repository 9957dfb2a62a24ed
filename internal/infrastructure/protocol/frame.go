package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"dualgate/pkg/optimize"
)

// HeaderSize is the fixed wire size of a frame header.
const HeaderSize = 8

var (
	// ErrPeerClosed means the stream ended before a complete header or payload
	// arrived. The connection must be torn down.
	ErrPeerClosed = errors.New("protocol: peer closed connection")
	// ErrUnsupportedVersion is returned after the frame's payload was discarded.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	// ErrPayloadTooLarge is returned after the oversized payload was discarded.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// Header is the fixed frame header: version then payload length, both
// big-endian uint32.
type Header struct {
	Version    uint32
	PayloadLen uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// VersionSet is the set of protocol versions a decoder accepts.
type VersionSet map[uint32]struct{}

func NewVersionSet(versions ...uint32) VersionSet {
	vs := make(VersionSet, len(versions))
	for _, v := range versions {
		vs[v] = struct{}{}
	}
	return vs
}

func (vs VersionSet) Supports(v uint32) bool {
	_, ok := vs[v]
	return ok
}

func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	binary.BigEndian.PutUint32(buf[4:8], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("protocol: short header (%d bytes)", len(b))
	}
	return Header{
		Version:    binary.BigEndian.Uint32(b[0:4]),
		PayloadLen: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// ReadHeader reads exactly HeaderSize bytes from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if err := readFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return DecodeHeader(buf[:])
}

// ReadPayload reads exactly n bytes from r.
func ReadPayload(r io.Reader, n uint32) ([]byte, error) {
	payload := make([]byte, n)
	if n == 0 {
		return payload, nil
	}
	if err := readFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Discard consumes n bytes from r without buffering them.
func Discard(r io.Reader, n uint32) error {
	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
		return classify(err)
	}
	return nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrPeerClosed
	}
	return err
}

// Decoder reads frames from a stream, keeping it aligned on frame boundaries
// even when a frame is rejected.
type Decoder struct {
	r          io.Reader
	versions   VersionSet
	maxPayload uint32
}

func NewDecoder(r io.Reader, versions VersionSet, maxPayload uint32) *Decoder {
	return &Decoder{r: r, versions: versions, maxPayload: maxPayload}
}

// Next returns the next frame. ErrUnsupportedVersion and ErrPayloadTooLarge
// are returned with the offending header after its payload has been consumed,
// so the caller may keep reading. Any other error leaves the stream unusable.
func (d *Decoder) Next() (Frame, error) {
	h, err := ReadHeader(d.r)
	if err != nil {
		return Frame{}, err
	}

	if !d.versions.Supports(h.Version) {
		if err := Discard(d.r, h.PayloadLen); err != nil {
			return Frame{Header: h}, err
		}
		return Frame{Header: h}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	if d.maxPayload > 0 && h.PayloadLen > d.maxPayload {
		if err := Discard(d.r, h.PayloadLen); err != nil {
			return Frame{Header: h}, err
		}
		return Frame{Header: h}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadLen, d.maxPayload)
	}

	payload, err := ReadPayload(d.r, h.PayloadLen)
	if err != nil {
		return Frame{Header: h}, err
	}
	return Frame{Header: h, Payload: payload}, nil
}

var frameBuffers = optimize.NewBufferPool(1 << 20)

// WriteFrame writes header and payload with a single Write call.
func WriteFrame(w io.Writer, version uint32, payload []byte) (int, error) {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return 0, ErrPayloadTooLarge
	}
	hdr := EncodeHeader(Header{Version: version, PayloadLen: uint32(len(payload))})

	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)
	buf.Grow(HeaderSize + len(payload))
	buf.Write(hdr[:])
	buf.Write(payload)

	return w.Write(buf.Bytes())
}
