package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"dualgate/internal/core/domain"
	"dualgate/pkg/validation"
)

// ErrMalformedPacket is returned when a frame payload is not a valid packet.
// The frame has been fully consumed so the connection stays usable.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// packet layout:
//
//	[priority:u8][info_type:u8][src_len:u16][src][dst_len:u16][dst][data...]
const packetFixedSize = 1 + 1 + 2 + 2

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}

// ParsePacket decodes a frame payload. Data aliases payload.
func ParsePacket(payload []byte) (domain.Packet, error) {
	if len(payload) < packetFixedSize {
		return domain.Packet{}, malformed("payload of %d bytes is shorter than packet header", len(payload))
	}

	pkt := domain.Packet{
		Priority: domain.Priority(payload[0]),
		InfoType: domain.InfoType(payload[1]),
	}
	if !pkt.Priority.Valid() {
		return domain.Packet{}, malformed("unknown priority %d", payload[0])
	}
	if !pkt.InfoType.Valid() {
		return domain.Packet{}, malformed("unknown info type %d", payload[1])
	}

	rest := payload[2:]
	src, rest, err := readID(rest, "source")
	if err != nil {
		return domain.Packet{}, err
	}
	dst, rest, err := readID(rest, "target")
	if err != nil {
		return domain.Packet{}, err
	}

	pkt.SourceID = src
	pkt.TargetID = dst
	pkt.Data = rest
	return pkt, nil
}

func readID(b []byte, field string) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, malformed("truncated %s id length", field)
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, malformed("%s id declares %d bytes, %d available", field, n, len(b))
	}
	id := string(b[:n])
	if id != "" {
		if err := validation.ValidateClientID(id); err != nil {
			return "", nil, malformed("%s id: %v", field, err)
		}
	}
	return id, b[n:], nil
}

// EncodePacket is the inverse of ParsePacket.
func EncodePacket(pkt domain.Packet) ([]byte, error) {
	if !pkt.Priority.Valid() {
		return nil, domain.ErrInvalidPriority
	}
	if !pkt.InfoType.Valid() {
		return nil, fmt.Errorf("protocol: unknown info type %d", pkt.InfoType)
	}
	if len(pkt.SourceID) > math.MaxUint16 || len(pkt.TargetID) > math.MaxUint16 {
		return nil, fmt.Errorf("protocol: id longer than %d bytes", math.MaxUint16)
	}

	buf := make([]byte, 0, packetFixedSize+len(pkt.SourceID)+len(pkt.TargetID)+len(pkt.Data))
	buf = append(buf, byte(pkt.Priority), byte(pkt.InfoType))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(pkt.SourceID)))
	buf = append(buf, pkt.SourceID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(pkt.TargetID)))
	buf = append(buf, pkt.TargetID...)
	buf = append(buf, pkt.Data...)
	return buf, nil
}
