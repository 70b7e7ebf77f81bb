// Package logging defines the dispatcher's event-tracing surface. It is
// trimmed from quic-go's Tracer/ConnectionTracer interfaces down to the
// events a pre-handshake demultiplexer can actually observe: it never
// sees an established connection, so there is nothing here about RTT,
// congestion windows, or loss detection.
package logging

// PacketType mirrors the long-header packet types plus the two cases the
// dispatcher can only infer from context: a short-header (1-RTT) packet,
// and a stateless reset, which is indistinguishable from a short header
// except by having no matching connection.
type PacketType uint8

const (
	PacketTypeInitial PacketType = iota
	PacketTypeHandshake
	PacketTypeRetry
	PacketType0RTT
	PacketTypeVersionNegotiation
	PacketType1RTT
	PacketTypeStatelessReset
	PacketTypeNotDetermined
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "initial"
	case PacketTypeHandshake:
		return "handshake"
	case PacketTypeRetry:
		return "retry"
	case PacketType0RTT:
		return "0RTT"
	case PacketTypeVersionNegotiation:
		return "version_negotiation"
	case PacketType1RTT:
		return "1RTT"
	case PacketTypeStatelessReset:
		return "stateless_reset"
	case PacketTypeNotDetermined:
		return ""
	default:
		panic("logging: unknown packet type")
	}
}

// PacketDropReason is why the dispatcher refused to act on a datagram. It
// corresponds to spec.md's §4.G decision points.
type PacketDropReason uint8

const (
	PacketDropUnknownConnectionID PacketDropReason = iota
	PacketDropHeaderParseError
	PacketDropUnsupportedVersion
	PacketDropUnexpectedPacket
	PacketDropUnexpectedSourceConnectionID
	PacketDropDOSPrevention
	PacketDropDuplicate
)

func (r PacketDropReason) String() string {
	switch r {
	case PacketDropUnknownConnectionID:
		return "unknown_connection_id"
	case PacketDropHeaderParseError:
		return "header_parse_error"
	case PacketDropUnsupportedVersion:
		return "unsupported_version"
	case PacketDropUnexpectedPacket:
		return "unexpected_packet"
	case PacketDropUnexpectedSourceConnectionID:
		return "unexpected_source_connection_id"
	case PacketDropDOSPrevention:
		return "dos_prevention"
	case PacketDropDuplicate:
		return "duplicate"
	default:
		panic("logging: unknown packet drop reason")
	}
}

// CloseReason is why the dispatcher tore down a buffered-packet entry or
// evicted a time-wait record.
type CloseReason uint8

const (
	CloseReasonStatelessReset CloseReason = iota
	CloseReasonStatelessTerminate
	CloseReasonBufferExpired
	CloseReasonTimeWaitExpired
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonStatelessReset:
		return "stateless_reset"
	case CloseReasonStatelessTerminate:
		return "stateless_terminate"
	case CloseReasonBufferExpired:
		return "buffer_expired"
	case CloseReasonTimeWaitExpired:
		return "time_wait_expired"
	default:
		panic("logging: unknown close reason")
	}
}
