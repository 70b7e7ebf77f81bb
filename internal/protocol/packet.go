package protocol

// HeaderForm is the public-header shape of a received datagram, per
// spec.md §3 ("PacketInfo.form").
type HeaderForm uint8

const (
	// FormGoogleQUIC is the pre-IETF public-header framing, identified by
	// a clear high bit and a fixed-bit pattern inconsistent with RFC 9000.
	FormGoogleQUIC HeaderForm = iota
	// FormIETFLongHeader is an RFC 9000 long header (first bit set).
	FormIETFLongHeader
	// FormIETFShortHeader is an RFC 9000 short header (first bit clear,
	// fixed bit set).
	FormIETFShortHeader
)

func (f HeaderForm) String() string {
	switch f {
	case FormGoogleQUIC:
		return "GOOGLE_QUIC"
	case FormIETFLongHeader:
		return "IETF_LONG_HEADER"
	case FormIETFShortHeader:
		return "IETF_SHORT_HEADER"
	default:
		return "unknown"
	}
}

// LongHeaderType distinguishes the four long-header packet types; it is
// only meaningful when HeaderForm is FormIETFLongHeader.
type LongHeaderType uint8

const (
	LongHeaderTypeInitial LongHeaderType = iota
	LongHeaderType0RTT
	LongHeaderTypeHandshake
	LongHeaderTypeRetry
)

func (t LongHeaderType) String() string {
	switch t {
	case LongHeaderTypeInitial:
		return "INITIAL"
	case LongHeaderType0RTT:
		return "0-RTT"
	case LongHeaderTypeHandshake:
		return "HANDSHAKE"
	case LongHeaderTypeRetry:
		return "RETRY"
	default:
		return "unknown"
	}
}

// Perspective says whether we're acting as the client or the server of a
// connection. The dispatcher only ever runs as a server, but the type is
// shared with the initial-secret derivation, which is perspective-aware.
type Perspective uint8

const (
	PerspectiveServer Perspective = iota
	PerspectiveClient
)

// ByteCount counts bytes of QUIC payload; kept as a distinct type, as in
// the teacher, so packet-length arithmetic can't silently be mixed with
// unrelated integers.
type ByteCount int64

// PacketNumber is a QUIC packet number. The dispatcher only ever needs one
// to drive Initial-packet header protection removal during CHLO
// extraction; it never assigns or tracks packet numbers of its own.
type PacketNumber uint64

// MaxReceivePacketSize is the largest UDP datagram the dispatcher reads
// into a pooled buffer, matching the common QUIC implementation ceiling:
// a 1500-byte Ethernet MTU minus a 40-byte IPv6 header and an 8-byte UDP
// header.
const MaxReceivePacketSize ByteCount = 1452

// MinInitialPacketSize is the smallest datagram carrying an Initial
// packet the dispatcher will act on (the "kQuicMinimumInitialPacketSize"
// amplification-mitigation floor); shorter ones are a DoS-prevention
// drop, not a framing error.
const MinInitialPacketSize ByteCount = 1200
