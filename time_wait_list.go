package dispatcher

import (
	"crypto/rand"
	"math/bits"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/internal/utils"
	"github.com/qdispatch/qdispatch/internal/wire"
	"github.com/qdispatch/qdispatch/logging"
)

// defaultResetPacingRTT is the RTT estimate assumed for a TimeWaitInfo that
// didn't carry one (e.g. a fresh stateless termination, which has no RTT
// sample to draw from). Chosen as a conservative internet-path RTT so
// pacing still protects against a tight retransmit loop.
const defaultResetPacingRTT = 100 * time.Millisecond

// TimeWaitAction is the action recorded against a connection ID in the
// time-wait list (spec.md §3, §4.D), a tagged variant per spec.md §9.
type TimeWaitAction uint8

const (
	ActionSendStatelessReset TimeWaitAction = iota
	ActionSendConnectionClosePackets
	ActionSendTerminationPackets
	ActionDoNothing
)

// TimeWaitInfo is the per-entry payload AddConnectionIdToTimeWait records
// (spec.md §4.D): the set of IDs sharing one session, any packets saved for
// retransmission, the ietf/length-prefix flag and an RTT estimate used to
// pace reset emission.
type TimeWaitInfo struct {
	ConnectionIDs []protocol.ConnectionID
	SavedPackets  []byte // pre-built CLOSE/termination packet(s), if any
	IETF          bool
	RTT           time.Duration
}

type timeWaitEntry struct {
	action  TimeWaitAction
	packets []byte
	ietf    bool

	// counter drives closedLocalConn's exponential-backoff retransmission
	// policy for SEND_CONNECTION_CLOSE_PACKETS / SEND_TERMINATION_PACKETS
	// entries: only the 1st, 2nd, 4th, 8th, ... arrival gets a reply.
	counter atomic.Uint32

	// limiter caps the absolute rate of replies to this entry regardless of
	// how the exponential backoff falls, paced off the connection's RTT
	// estimate (spec.md §8 invariant 6): a peer retransmitting faster than
	// its own RTT can't get replies faster than one per RTT.
	limiter *rate.Limiter

	expiry time.Time
}

// timeWaitList implements component D (spec.md §4.D): it remembers recently
// closed or statelessly terminated connection IDs and answers further
// packets addressed to them without reviving any per-connection state
// machinery. It owns its own expiry, independent of the dispatcher (spec.md
// §4.D, last line), via Sweep.
type timeWaitList struct {
	mu      sync.RWMutex
	entries map[string]*timeWaitEntry

	resetter *statelessResetter
	conn     sendConn
	tracer   logging.Tracer
	logger   utils.Logger
}

func newTimeWaitList(resetter *statelessResetter, conn sendConn, tracer logging.Tracer, logger utils.Logger) *timeWaitList {
	if tracer == nil {
		tracer = logging.NullTracer{}
	}
	if logger == nil {
		logger = utils.NopLogger{}
	}
	return &timeWaitList{
		entries:  make(map[string]*timeWaitEntry),
		resetter: resetter,
		conn:     conn,
		tracer:   tracer,
		logger:   logger,
	}
}

// AddConnectionIdToTimeWait implements spec.md §4.D: info.ConnectionIDs all
// receive the same action and share one expiry and one retransmission
// counter, matching the invariant that they all belong to one session.
func (l *timeWaitList) AddConnectionIdToTimeWait(action TimeWaitAction, info TimeWaitInfo, now time.Time, lifetime time.Duration) {
	rtt := info.RTT
	if rtt <= 0 {
		rtt = defaultResetPacingRTT
	}

	entry := &timeWaitEntry{
		action:  action,
		packets: info.SavedPackets,
		ietf:    info.IETF,
		limiter: rate.NewLimiter(rate.Every(rtt), 2),
		expiry:  now.Add(lifetime),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cid := range info.ConnectionIDs {
		l.entries[string(cid.Bytes())] = entry
	}
}

// IsConnectionIdInTimeWait reports whether cid has a live time-wait entry.
func (l *timeWaitList) IsConnectionIdInTimeWait(cid protocol.ConnectionID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[string(cid.Bytes())]
	return ok
}

// ProcessPacket implements spec.md §4.D: replays the recorded action for
// cid. Reset/close replies follow the same exponential-backoff
// retransmission policy as the teacher's closedLocalConn, so a peer
// retrying aggressively doesn't get a reply to every single packet.
func (l *timeWaitList) ProcessPacket(self, peer net.Addr, cid protocol.ConnectionID, length int) {
	l.mu.RLock()
	entry, ok := l.entries[string(cid.Bytes())]
	l.mu.RUnlock()
	if !ok {
		return
	}

	switch entry.action {
	case ActionDoNothing:
		return
	case ActionSendStatelessReset:
		if length <= minStatelessResetPacketLength {
			return
		}
		n := entry.counter.Add(1)
		if bits.OnesCount32(n) != 1 || !entry.limiter.Allow() {
			return
		}
		l.sendStatelessReset(self, peer, cid, length)
	case ActionSendConnectionClosePackets, ActionSendTerminationPackets:
		n := entry.counter.Add(1)
		if bits.OnesCount32(n) != 1 || !entry.limiter.Allow() {
			return
		}
		if len(entry.packets) == 0 {
			return
		}
		if err := l.conn.WriteTo(entry.packets, peer); err == nil {
			l.logger.Debugf("retransmitted saved close packet to %s (count %d)", peer, n)
		}
	}
}

// sendStatelessReset builds and emits a minimum-viable stateless reset: a
// short-header-shaped random prefix terminated by the per-connection
// stateless reset token (RFC 9000 section 10.3). Not emitted if doing so
// would make the server an amplifier: incomingLength must already have
// cleared MinStatelessResetPacketLength at the call site.
func (l *timeWaitList) sendStatelessReset(self, peer net.Addr, cid protocol.ConnectionID, incomingLength int) {
	const packetLen = 43 // comfortably > any MinStatelessResetPacketLength floor
	pkt := make([]byte, packetLen)
	if _, err := rand.Read(pkt); err != nil {
		return
	}
	pkt[0] = (pkt[0] & 0x3f) | 0x40 // short header form, fixed bit set

	token := l.resetter.GetStatelessResetToken(cid)
	copy(pkt[packetLen-len(token):], token[:])

	if err := l.conn.WriteTo(pkt, peer); err == nil {
		l.tracer.SentStatelessReset(peer, cid)
		metricStatelessResetsSent.Inc()
	}
}

// SendVersionNegotiationPacket implements spec.md §4.D.
func (l *timeWaitList) SendVersionNegotiationPacket(destConnID, srcConnID protocol.ConnectionID, self, peer net.Addr, supported []protocol.VersionNumber) {
	pkt := wire.ComposeVersionNegotiation(destConnID, srcConnID, supported)
	if err := l.conn.WriteTo(pkt, peer); err == nil {
		l.tracer.SentVersionNegotiationPacket(peer, destConnID, srcConnID, supported)
		metricVersionNegotiationsSent.Inc()
	}
}

// minStatelessResetPacketLength is MinStatelessResetPacketLength (spec.md
// §6): an incoming packet this short or shorter never triggers a stateless
// reset, so the dispatcher can't be turned into a bytes-amplifying
// reflector for a peer it has never verified.
const minStatelessResetPacketLength = 38

// SendPublicReset implements spec.md §4.D directly, independent of any
// recorded time-wait entry: used when the dispatcher decides in-line (not
// via a stored action) that an unknown short-header CID deserves an
// immediate reset. It is a no-op if incomingLength doesn't clear the
// anti-amplification floor.
func (l *timeWaitList) SendPublicReset(self, peer net.Addr, cid protocol.ConnectionID, incomingLength int) {
	if incomingLength <= minStatelessResetPacketLength {
		return
	}
	l.sendStatelessReset(self, peer, cid, incomingLength)
}

// Sweep removes every entry whose expiry has passed. The dispatcher's
// lifecycle alarms (component H) drive this on a timer, but the list owns
// the expiry decision itself (spec.md §4.D).
func (l *timeWaitList) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.entries {
		if !now.Before(entry.expiry) {
			delete(l.entries, key)
		}
	}
}

// Len reports the number of tracked connection IDs, for metrics.go.
func (l *timeWaitList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
