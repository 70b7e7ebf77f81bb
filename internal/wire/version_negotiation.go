package wire

import (
	"bytes"
	"crypto/rand"

	"github.com/qdispatch/qdispatch/internal/protocol"
)

// ComposeVersionNegotiation builds a version-negotiation packet per
// RFC 9000 section 17.2.1: the dispatcher's source and destination
// connection IDs are swapped from the triggering packet's, the version
// field is zero, and the reserved bits are random (clients are required to
// ignore them, so any value satisfies spec.md §8's round-trip law as long
// as ParseVersionNegotiation recovers the version list unchanged).
func ComposeVersionNegotiation(destConnID, srcConnID protocol.ConnectionID, supported []protocol.VersionNumber) []byte {
	b := &bytes.Buffer{}
	var firstByte [1]byte
	rand.Read(firstByte[:])
	firstByte[0] |= 0x80 // long header form bit must be set
	b.WriteByte(firstByte[0])
	b.Write([]byte{0, 0, 0, 0}) // version == 0 marks version negotiation

	b.WriteByte(byte(destConnID.Len()))
	b.Write(destConnID.Bytes())
	b.WriteByte(byte(srcConnID.Len()))
	b.Write(srcConnID.Bytes())

	for _, v := range supported {
		var vb [4]byte
		vb[0] = byte(v >> 24)
		vb[1] = byte(v >> 16)
		vb[2] = byte(v >> 8)
		vb[3] = byte(v)
		b.Write(vb[:])
	}
	return b.Bytes()
}

// ParseVersionNegotiation recovers the supported-version list from a
// version-negotiation packet, the inverse of ComposeVersionNegotiation.
// Used by spec.md §8's round-trip law: parse(compose(v)) == v.
func ParseVersionNegotiation(data []byte) ([]protocol.VersionNumber, error) {
	info, err := parseLongHeader(data)
	if err != nil {
		return nil, err
	}
	rest := data[info.ParsedLen:]
	if len(rest)%4 != 0 {
		return nil, ErrNotEnoughData
	}
	versions := make([]protocol.VersionNumber, 0, len(rest)/4)
	for i := 0; i+4 <= len(rest); i += 4 {
		versions = append(versions, protocol.VersionNumber(bigEndianUint32(rest[i:i+4])))
	}
	return versions, nil
}

// IsVersionNegotiationPacket reports whether a datagram is a
// version-negotiation packet: long header form with a zero version field.
func IsVersionNegotiationPacket(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	return data[0]&0x80 != 0 && data[1] == 0 && data[2] == 0 && data[3] == 0 && data[4] == 0
}
