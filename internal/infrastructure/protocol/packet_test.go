package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dualgate/internal/core/domain"
)

func TestPacket_RoundTrip(t *testing.T) {
	pkt := domain.Packet{
		Priority: domain.PriorityHigh,
		InfoType: domain.InfoFile,
		SourceID: "alice",
		TargetID: "bob",
		Data:     []byte{0, 1, 2, 3},
	}

	enc, err := EncodePacket(pkt)
	require.NoError(t, err)

	got, err := ParsePacket(enc)
	require.NoError(t, err)
	assert.Equal(t, pkt, got)
}

func TestPacket_EmptyIDsAndData(t *testing.T) {
	enc, err := EncodePacket(domain.Packet{Priority: domain.PriorityLow, InfoType: domain.InfoMessage})
	require.NoError(t, err)
	assert.Len(t, enc, packetFixedSize)

	got, err := ParsePacket(enc)
	require.NoError(t, err)
	assert.Empty(t, got.SourceID)
	assert.Empty(t, got.TargetID)
	assert.Empty(t, got.Data)
}

func TestPacket_WireLayout(t *testing.T) {
	enc, err := EncodePacket(domain.Packet{
		Priority: domain.PriorityMedium,
		InfoType: domain.InfoVideoRequest,
		SourceID: "a",
		TargetID: "bc",
		Data:     []byte("z"),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 3, 0, 1, 'a', 0, 2, 'b', 'c', 'z'}, enc)
}

func TestParsePacket_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"too short", []byte{0, 0, 0}},
		{"unknown priority", []byte{7, 0, 0, 0, 0, 0}},
		{"unknown info type", []byte{0, 42, 0, 0, 0, 0}},
		{"source longer than payload", []byte{0, 0, 0, 9, 'a', 0, 0}},
		{"missing target length", []byte{0, 0, 0, 1, 'a', 0}},
		{"target longer than payload", []byte{0, 0, 0, 0, 0, 5, 'x'}},
		{"invalid source characters", []byte{0, 0, 0, 2, 'a', ' ', 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.payload)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestEncodePacket_Rejects(t *testing.T) {
	_, err := EncodePacket(domain.Packet{Priority: domain.Priority(5)})
	assert.ErrorIs(t, err, domain.ErrInvalidPriority)

	_, err = EncodePacket(domain.Packet{InfoType: domain.InfoType(99)})
	assert.Error(t, err)

	_, err = EncodePacket(domain.Packet{SourceID: strings.Repeat("a", 70000)})
	assert.Error(t, err)
}
