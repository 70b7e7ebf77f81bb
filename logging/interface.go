package logging

import (
	"net"

	"github.com/qdispatch/qdispatch/internal/protocol"
)

// Tracer records dispatcher-level events: what happens to datagrams and
// connection IDs before any session owns them, like a buffered packet, a
// stateless reset or a rejected datagram that never resolved to a
// connection at all.
type Tracer interface {
	// SentVersionNegotiationPacket is called when the dispatcher replies
	// to an unsupported version with a version-negotiation packet.
	SentVersionNegotiationPacket(remote net.Addr, destConnID, srcConnID protocol.ConnectionID, supported []protocol.VersionNumber)
	// SentStatelessReset is called when the dispatcher replies to a
	// short-header packet for an unknown connection with a stateless
	// reset token.
	SentStatelessReset(remote net.Addr, connID protocol.ConnectionID)
	// DroppedPacket is called when the dispatcher discards a datagram
	// whose header fails to parse or that fails one of the fast-path
	// checks (blocked source port, undersized Initial or connection ID,
	// unsupported version). Datagrams dropped by a ValidityChecker
	// verdict or by a full buffered-packet store are not reported here.
	DroppedPacket(remote net.Addr, packetType PacketType, size protocol.ByteCount, reason PacketDropReason)
	// BufferedPacket is called when a datagram is queued in the
	// buffered-packet store pending session creation.
	BufferedPacket(connID protocol.ConnectionID, packetType PacketType)
	// ClosedConnection is called when a buffered-packet entry or
	// time-wait record is torn down.
	ClosedConnection(connID protocol.ConnectionID, reason CloseReason)
}

// NullTracer discards every event. It is what the dispatcher uses unless
// the caller supplies a real Tracer.
type NullTracer struct{}

var _ Tracer = NullTracer{}

func (NullTracer) SentVersionNegotiationPacket(net.Addr, protocol.ConnectionID, protocol.ConnectionID, []protocol.VersionNumber) {
}
func (NullTracer) SentStatelessReset(net.Addr, protocol.ConnectionID)                          {}
func (NullTracer) DroppedPacket(net.Addr, PacketType, protocol.ByteCount, PacketDropReason)     {}
func (NullTracer) BufferedPacket(protocol.ConnectionID, PacketType)                             {}
func (NullTracer) ClosedConnection(protocol.ConnectionID, CloseReason)                          {}
