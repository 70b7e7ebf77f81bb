package wire

import (
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

// buildLongHeader assembles just enough of an IETF long header (version
// negotiation form: a zero version label stops parseLongHeader before any
// version-gated fields) to exercise dcid-length handling in isolation.
func buildLongHeader(dcidLen int) []byte {
	pkt := []byte{0x80}
	pkt = append(pkt, 0, 0, 0, 0) // version 0: version negotiation, parsing stops after the CIDs
	pkt = append(pkt, byte(dcidLen))
	pkt = append(pkt, make([]byte, dcidLen)...)
	pkt = append(pkt, 0) // scid length 0
	return pkt
}

func TestParsePublicHeaderAcceptsMaxConnectionIDLen(t *testing.T) {
	pkt := buildLongHeader(protocol.MaxConnectionIDLen)
	info, err := ParsePublicHeader(pkt, 8)
	require.NoError(t, err)
	require.Equal(t, protocol.MaxConnectionIDLen, info.DestConnectionID.Len())
}

func TestParsePublicHeaderRejectsOversizedConnectionID(t *testing.T) {
	pkt := buildLongHeader(protocol.MaxConnectionIDLen + 1)
	_, err := ParsePublicHeader(pkt, 8)
	require.Error(t, err)
}
