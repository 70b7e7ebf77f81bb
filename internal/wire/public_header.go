// Package wire implements component A of the dispatcher: parsing just
// enough of a QUIC datagram's public header to route it, without decrypting
// or otherwise touching the payload. See spec.md §4.A.
package wire

import (
	"bytes"
	"errors"
	"io"

	"github.com/qdispatch/qdispatch/internal/protocol"
)

// ErrNotEnoughData is returned whenever the datagram is too short to
// contain the field currently being parsed.
var ErrNotEnoughData = errors.New("wire: not enough data to parse public header")

// PacketInfo is the parser's sole output: the datagram's header fields,
// exactly as specified in spec.md §3 ("Parsed public header").
type PacketInfo struct {
	Form            protocol.HeaderForm
	LongPacketType  protocol.LongHeaderType // only meaningful if Form == FormIETFLongHeader
	VersionFlag     bool
	VersionLabel    uint32 // the raw, possibly-unknown 32-bit version field
	Version         protocol.VersionNumber
	UseLengthPrefix bool // whether this version length-prefixes connection IDs

	DestConnectionID protocol.ConnectionID
	SrcConnectionID   protocol.ConnectionID
	RetryToken       []byte

	// ParsedLen is how many bytes of data were consumed by the header
	// itself (not including any remaining frame payload).
	ParsedLen int
}

// IsKnown reports whether the parsed version is one this dispatcher
// recognizes and will create sessions for.
func (p *PacketInfo) IsKnown() bool {
	return p.VersionFlag && p.Version.IsKnown()
}

// minGoogleQuicPublicHeaderLen is 1 flags byte, at minimum.
const minGoogleQuicPublicHeaderLen = 1

// ParsePublicHeader implements the component-A contract: given the raw
// datagram and the server's currently-expected connection ID length (for
// the legacy GOOGLE_QUIC form, this is authoritative; for IETF long
// headers it's advisory only, since the wire format carries an explicit
// length), return a PacketInfo or a framing error. The parser is
// stateless and allocates no per-connection state, as required by
// spec.md §4.A.
func ParsePublicHeader(data []byte, expectedServerCIDLength int) (*PacketInfo, error) {
	if len(data) == 0 {
		return nil, io.EOF
	}
	firstByte := data[0]

	if firstByte&0x80 != 0 {
		return parseLongHeader(data)
	}
	if firstByte&0x40 != 0 {
		return parseShortHeader(data, expectedServerCIDLength)
	}
	return parseGoogleQuicHeader(data, expectedServerCIDLength)
}

func parseGoogleQuicHeader(data []byte, expectedServerCIDLength int) (*PacketInfo, error) {
	if len(data) < minGoogleQuicPublicHeaderLen {
		return nil, ErrNotEnoughData
	}
	if expectedServerCIDLength < 0 || expectedServerCIDLength > protocol.MaxConnectionIDLen {
		return nil, errors.New("wire: invalid expected connection ID length")
	}
	publicFlags := data[0]
	pos := 1
	var dcid protocol.ConnectionID
	if publicFlags&0x08 != 0 { // connection ID present (not truncated)
		if len(data) < pos+expectedServerCIDLength {
			return nil, ErrNotEnoughData
		}
		dcid = protocol.ConnectionID(data[pos : pos+expectedServerCIDLength])
		pos += expectedServerCIDLength
	}
	info := &PacketInfo{
		Form:             protocol.FormGoogleQUIC,
		DestConnectionID: dcid,
		UseLengthPrefix:  false,
	}
	if publicFlags&0x01 != 0 { // version flag
		if len(data) < pos+4 {
			return nil, ErrNotEnoughData
		}
		info.VersionFlag = true
		info.VersionLabel = bigEndianUint32(data[pos : pos+4])
		info.Version = protocol.VersionNumber(info.VersionLabel)
		pos += 4
	}
	info.ParsedLen = pos
	return info, nil
}

func parseShortHeader(data []byte, expectedServerCIDLength int) (*PacketInfo, error) {
	if expectedServerCIDLength < 0 || expectedServerCIDLength > protocol.MaxConnectionIDLen {
		return nil, errors.New("wire: invalid expected connection ID length")
	}
	if len(data) < 1+expectedServerCIDLength {
		return nil, ErrNotEnoughData
	}
	return &PacketInfo{
		Form:             protocol.FormIETFShortHeader,
		DestConnectionID: protocol.ConnectionID(data[1 : 1+expectedServerCIDLength]),
		UseLengthPrefix:  true,
		ParsedLen:        1 + expectedServerCIDLength,
	}, nil
}

func parseLongHeader(data []byte) (*PacketInfo, error) {
	r := bytes.NewReader(data)
	typeByte, _ := r.ReadByte()

	versionLabel, err := readUint32(r)
	if err != nil {
		return nil, ErrNotEnoughData
	}
	info := &PacketInfo{
		Form:            protocol.FormIETFLongHeader,
		VersionFlag:     true,
		VersionLabel:    versionLabel,
		Version:         protocol.VersionNumber(versionLabel),
		UseLengthPrefix: true,
	}

	dcidLenByte, err := r.ReadByte()
	if err != nil {
		return nil, ErrNotEnoughData
	}
	dcid, err := protocol.ReadConnectionID(r, int(dcidLenByte))
	if err != nil {
		return nil, ErrNotEnoughData
	}
	info.DestConnectionID = dcid

	scidLenByte, err := r.ReadByte()
	if err != nil {
		return nil, ErrNotEnoughData
	}
	scid, err := protocol.ReadConnectionID(r, int(scidLenByte))
	if err != nil {
		return nil, ErrNotEnoughData
	}
	info.SrcConnectionID = scid

	if info.VersionLabel == 0 {
		// version negotiation packet: no more fields
		info.ParsedLen = len(data) - r.Len()
		return info, nil
	}
	if !info.Version.IsKnown() {
		// Per spec.md §4.A we still return the invariant-only fields;
		// callers decide whether to drop or send version negotiation.
		info.ParsedLen = len(data) - r.Len()
		return info, nil
	}

	switch (typeByte & 0x30) >> 4 {
	case 0x0:
		info.LongPacketType = protocol.LongHeaderTypeInitial
	case 0x1:
		info.LongPacketType = protocol.LongHeaderType0RTT
	case 0x2:
		info.LongPacketType = protocol.LongHeaderTypeHandshake
	case 0x3:
		info.LongPacketType = protocol.LongHeaderTypeRetry
	}

	if info.LongPacketType == protocol.LongHeaderTypeRetry {
		// everything remaining but the 16-byte integrity tag is the token
		tokenLen := r.Len() - 16
		if tokenLen < 0 {
			return nil, ErrNotEnoughData
		}
		token := make([]byte, tokenLen)
		if _, err := io.ReadFull(r, token); err != nil {
			return nil, ErrNotEnoughData
		}
		info.RetryToken = token
		info.ParsedLen = len(data) - r.Len()
		return info, nil
	}

	if info.LongPacketType == protocol.LongHeaderTypeInitial {
		tokenLen, err := readVarInt(r)
		if err != nil {
			return nil, ErrNotEnoughData
		}
		if tokenLen > uint64(r.Len()) {
			return nil, ErrNotEnoughData
		}
		token := make([]byte, tokenLen)
		if _, err := io.ReadFull(r, token); err != nil {
			return nil, ErrNotEnoughData
		}
		info.RetryToken = token
	}

	// length field (varint), followed by the packet number and payload,
	// neither of which component A needs to inspect.
	if _, err := readVarInt(r); err != nil {
		return nil, ErrNotEnoughData
	}

	info.ParsedLen = len(data) - r.Len()
	return info, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return bigEndianUint32(b[:]), nil
}

func bigEndianUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// writeVarInt writes v as a QUIC variable-length integer (RFC 9000, section
// 16), choosing the shortest encoding that fits.
func writeVarInt(b *bytes.Buffer, v uint64) {
	switch {
	case v <= maxVarInt1:
		b.WriteByte(byte(v))
	case v <= maxVarInt2:
		b.Write([]byte{byte(v>>8) | 0x40, byte(v)})
	case v <= maxVarInt4:
		b.Write([]byte{byte(v>>24) | 0x80, byte(v >> 16), byte(v >> 8), byte(v)})
	default:
		b.Write([]byte{
			byte(v>>56) | 0xc0, byte(v >> 48), byte(v >> 40), byte(v >> 32),
			byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
		})
	}
}

// varIntLen returns the number of bytes writeVarInt would use to encode v.
func varIntLen(v uint64) int {
	switch {
	case v <= maxVarInt1:
		return 1
	case v <= maxVarInt2:
		return 2
	case v <= maxVarInt4:
		return 4
	default:
		return 8
	}
}

const (
	maxVarInt1 = 63
	maxVarInt2 = 16383
	maxVarInt4 = 1073741823
)

// readVarInt reads a QUIC variable-length integer (RFC 9000, section 16).
func readVarInt(r *bytes.Reader) (uint64, error) {
	firstByte, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	length := 1 << (firstByte >> 6)
	b := make([]byte, length)
	b[0] = firstByte & 0x3f
	for i := 1; i < length; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		b[i] = c
	}
	var v uint64
	for _, c := range b {
		v = v<<8 + uint64(c)
	}
	return v, nil
}
