package dispatcher

import (
	"net"
	"time"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/internal/wire"
)

// PacketInfo is component A's parser output (spec.md §3), used throughout
// the dispatcher package under its short name.
type PacketInfo = wire.PacketInfo

// ReceivedPacket is spec.md §3's "Datagram": immutable bytes plus receipt
// metadata. It is borrowed by every component downstream of the socket read
// and is never retained past a call unless explicitly copied into the
// buffered store.
type ReceivedPacket struct {
	Data       []byte
	ReceivedAt time.Time
	SelfAddr   net.Addr
	PeerAddr   net.Addr

	buffer *packetBuffer
}

// Release returns the packet's backing buffer to the pool. Safe to call on
// a ReceivedPacket with no pooled buffer (buffer == nil).
func (p *ReceivedPacket) Release() {
	if p.buffer != nil {
		p.buffer.Release()
	}
}

// Clone makes a private copy of p's bytes, for a caller that must retain a
// datagram past the call that delivered it. The dispatcher's own buffering
// paths copy the bytes themselves and do not call it.
func (p *ReceivedPacket) Clone() *ReceivedPacket {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &ReceivedPacket{Data: data, ReceivedAt: p.ReceivedAt, SelfAddr: p.SelfAddr, PeerAddr: p.PeerAddr}
}

// ParsedChlo is spec.md §3/§4.B's CHLO extraction output, common to both the
// legacy and TLS extractors.
type ParsedChlo struct {
	SNI                 string
	ALPNs               []string
	UAID                string
	RetryToken          []byte
	ResumptionAttempted bool
	EarlyDataAttempted  bool

	// LegacyEncapsulated holds the inner datagram of a legacy-version
	// encapsulation CHLO (spec.md §4.I), when present.
	LegacyEncapsulated []byte
}

// Session is the dispatcher's view of a connection, per spec.md's "Out of
// scope: Session internals — the dispatcher only calls ProcessUdpPacket on a
// session and observes close callbacks." A Session is referenced through an
// ordinary Go interface value, which is this implementation's
// shared-ownership primitive (see DESIGN.md on §9 "Shared ownership of
// sessions"): the garbage collector keeps it alive for as long as any
// connection ID in the map still points at it.
type Session interface {
	// ProcessUDPPacket hands one datagram, already matched to this
	// session's connection ID, to the session's own packet-processing
	// loop.
	ProcessUDPPacket(p *ReceivedPacket)

	// SetOriginalDestinationConnectionID tells the session the
	// pre-replacement CID the client's first packet carried (spec.md
	// §4.G step 5), for inclusion in its transport parameters.
	SetOriginalDestinationConnectionID(protocol.ConnectionID)

	// Close tears the session down immediately, as driven by
	// Dispatcher.Shutdown (spec.md §4.K).
	Close(err error)
}

// SessionFactory creates sessions for CHLOs that clear all validity checks
// (spec.md §6, CreateQuicSession). Returning (nil, nil) is a deliberate
// refusal, distinct from an error: ProcessChlo treats it as "do nothing",
// not as a reason to statelessly terminate the connection ID.
type SessionFactory interface {
	CreateSession(serverCID protocol.ConnectionID, self, peer net.Addr, alpn string, version protocol.VersionNumber, chlo *ParsedChlo) (Session, error)
}

// Fate is the outcome of ValidityChecks: what the dispatcher should do with
// a packet once its header is parsed (spec.md §4.G step 3, §9 "tagged
// variants preferred over subclassing").
type Fate uint8

const (
	FateProcess Fate = iota
	FateTimeWait
	FateDrop
)

func (f Fate) String() string {
	switch f {
	case FateProcess:
		return "PROCESS"
	case FateTimeWait:
		return "TIME_WAIT"
	case FateDrop:
		return "DROP"
	default:
		return "unknown"
	}
}

// ValidityChecker lets an embedder extend the default validity-check policy
// (spec.md §6, §9 "ValidityChecks is virtual"). DefaultValidityChecker
// implements the specified default: no-version packets for unknown CIDs go
// to the time-wait path (a stateless reset for a short header, otherwise a
// drop); everything else proceeds.
type ValidityChecker interface {
	// ValidityChecks runs before CHLO extraction, once the header is
	// parsed. Implementations must not return FateProcess for a
	// connection ID already known to be in time-wait.
	ValidityChecks(info *PacketInfo) Fate

	// ValidityChecksOnFullChlo runs after a full CHLO is assembled, with
	// the parsed CHLO available for policy decisions (e.g. ALPN
	// allow-listing).
	ValidityChecksOnFullChlo(info *PacketInfo, chlo *ParsedChlo) Fate
}

// DefaultValidityChecker implements spec.md §9's specified default:
// ValidityChecks returns FateTimeWait for a packet without a version (the
// dispatcher then sends a rate-limited stateless reset for a short header
// and drops anything else) and FateProcess otherwise; it never fails a
// full CHLO.
type DefaultValidityChecker struct{}

var _ ValidityChecker = DefaultValidityChecker{}

func (DefaultValidityChecker) ValidityChecks(info *PacketInfo) Fate {
	if !info.VersionFlag {
		return FateTimeWait
	}
	return FateProcess
}

func (DefaultValidityChecker) ValidityChecksOnFullChlo(*PacketInfo, *ParsedChlo) Fate {
	return FateProcess
}
