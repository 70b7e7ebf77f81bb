package dispatcher

import (
	"container/list"
	"net"
	"sync"
	"time"

	"github.com/qdispatch/qdispatch/internal/protocol"
)

// EnqueueResult is the outcome of BufferedPacketStore.Enqueue (spec.md
// §4.C), a tagged variant per spec.md §9.
type EnqueueResult uint8

const (
	EnqueueSuccess EnqueueResult = iota
	EnqueueTooManyPackets
	EnqueueConnectionPoolFull
	EnqueueCHLOAlreadyDelivered
	EnqueueDrop
)

// BufferedPacket is one datagram held in a BufferedPacketList, in arrival
// order (spec.md §3), except that the CHLO-bearing packet is placed first.
type BufferedPacket struct {
	Data     []byte
	SelfAddr net.Addr
	PeerAddr net.Addr
	Received time.Time
}

// BufferedPacketList is spec.md §3's per-connection-ID queue: datagrams
// arriving before a session exists for their connection ID, plus whatever
// CHLO-extraction state has accumulated against them.
type BufferedPacketList struct {
	Packets     []BufferedPacket
	ParsedChlo  *ParsedChlo
	IETF        bool
	Version     protocol.VersionNumber
	CreatedAt   time.Time

	chloState *tlsChloExtractorState // nil for legacy-crypto connections
}

// HasChlo reports whether this list's CHLO has fully arrived.
func (l *BufferedPacketList) HasChlo() bool { return l.ParsedChlo != nil }

func (l *BufferedPacketList) totalBytes() int {
	n := 0
	for _, p := range l.Packets {
		n += len(p.Data)
	}
	return n
}

// bufferedPacketStore implements component C (spec.md §4.C): bounded FIFOs
// keyed by connection ID, gathering datagrams (and, for TLS connections,
// incremental CHLO state) until a session can be created or the entry
// expires. chloReadyOrder tracks cross-connection FIFO delivery order for
// DeliverPacketsForNextConnection, the ordering guarantee of spec.md §5.
type bufferedPacketStore struct {
	mu sync.Mutex

	lists map[string]*BufferedPacketList

	// chloReadyOrder holds connection-ID keys (as strings) in the order
	// their CHLO became ready, so ProcessBufferedChlos can drain them
	// FIFO across connections (spec.md §4.C "Ordering").
	chloReadyOrder *list.List
	chloReadyElems map[string]*list.Element

	maxPacketsPerConnection int
	maxConnections          int
}

func newBufferedPacketStore(maxPacketsPerConnection, maxConnections int) *bufferedPacketStore {
	return &bufferedPacketStore{
		lists:                   make(map[string]*BufferedPacketList),
		chloReadyOrder:          list.New(),
		chloReadyElems:          make(map[string]*list.Element),
		maxPacketsPerConnection: maxPacketsPerConnection,
		maxConnections:          maxConnections,
	}
}

// Enqueue implements spec.md §4.C's Enqueue contract. now is threaded
// through explicitly (rather than read from a clock) so tests can control
// expiry without sleeping.
func (s *bufferedPacketStore) Enqueue(cid protocol.ConnectionID, ietf bool, pkt BufferedPacket, version protocol.VersionNumber, chlo *ParsedChlo, now time.Time) EnqueueResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(cid.Bytes())
	l, ok := s.lists[key]
	if !ok {
		if len(s.lists) >= s.maxConnections {
			if !s.evictOneLocked() {
				return EnqueueConnectionPoolFull
			}
		}
		l = &BufferedPacketList{IETF: ietf, Version: version, CreatedAt: now}
		s.lists[key] = l
	}
	if l.HasChlo() {
		return EnqueueCHLOAlreadyDelivered
	}
	if len(l.Packets) >= s.maxPacketsPerConnection {
		return EnqueueTooManyPackets
	}

	if chlo != nil {
		// the CHLO-bearing packet goes to the front, ahead of packets that
		// arrived before it, so it is the first one delivered
		l.Packets = append([]BufferedPacket{pkt}, l.Packets...)
		l.ParsedChlo = chlo
		elem := s.chloReadyOrder.PushBack(key)
		s.chloReadyElems[key] = elem
	} else {
		l.Packets = append(l.Packets, pkt)
	}
	return EnqueueSuccess
}

// evictOneLocked implements the over-capacity eviction policy of spec.md
// §4.C: "If a CHLO-bearing list overflows, existing non-CHLO lists are
// evicted preferentially." It removes the oldest non-CHLO list if one
// exists, else the oldest list overall (even one holding a CHLO); returns
// false only if the store is empty and there is nothing to evict.
func (s *bufferedPacketStore) evictOneLocked() bool {
	var oldestKey string
	var oldestNonChloKey string
	var oldestTime, oldestNonChloTime time.Time

	for key, l := range s.lists {
		if oldestKey == "" || l.CreatedAt.Before(oldestTime) {
			oldestKey, oldestTime = key, l.CreatedAt
		}
		if !l.HasChlo() && (oldestNonChloKey == "" || l.CreatedAt.Before(oldestNonChloTime)) {
			oldestNonChloKey, oldestNonChloTime = key, l.CreatedAt
		}
	}
	victim := oldestNonChloKey
	if victim == "" {
		victim = oldestKey
	}
	if victim == "" {
		return false
	}
	s.discardLocked(victim)
	return true
}

func (s *bufferedPacketStore) discardLocked(key string) {
	delete(s.lists, key)
	if elem, ok := s.chloReadyElems[key]; ok {
		s.chloReadyOrder.Remove(elem)
		delete(s.chloReadyElems, key)
	}
}

// HasBufferedPackets implements spec.md §4.C.
func (s *bufferedPacketStore) HasBufferedPackets(cid protocol.ConnectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lists[string(cid.Bytes())]
	return ok
}

// HasChloForConnection implements spec.md §4.C.
func (s *bufferedPacketStore) HasChloForConnection(cid protocol.ConnectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[string(cid.Bytes())]
	return ok && l.HasChlo()
}

// HasChlosBuffered implements spec.md §4.C.
func (s *bufferedPacketStore) HasChlosBuffered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chloReadyOrder.Len() > 0
}

// DeliverPackets implements spec.md §4.C: removes and returns the list for
// cid, or nil if none exists.
func (s *bufferedPacketStore) DeliverPackets(cid protocol.ConnectionID) *BufferedPacketList {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(cid.Bytes())
	l, ok := s.lists[key]
	if !ok {
		return nil
	}
	s.discardLocked(key)
	return l
}

// DeliverPacketsForNextConnection implements spec.md §4.C's FIFO-across-
// connections delivery, returning the connection ID alongside its list
// since the caller (ProcessBufferedChlos) needs the ID to register the new
// session.
func (s *bufferedPacketStore) DeliverPacketsForNextConnection() (protocol.ConnectionID, *BufferedPacketList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	front := s.chloReadyOrder.Front()
	if front == nil {
		return nil, nil
	}
	key := front.Value.(string)
	l := s.lists[key]
	s.discardLocked(key)
	return protocol.ConnectionID([]byte(key)), l
}

// IngestPacketForTlsChloExtraction implements spec.md §4.C: drives the TLS
// incremental CHLO extractor for cid over one more datagram, creating the
// per-connection extractor state on first use, and reports whether the
// full CHLO is now ready (and, separately, whether the extractor hit a
// fatal TLS alert). The caller distinguishes the two outcomes by checking
// gotAlert before gotChlo.
func (s *bufferedPacketStore) IngestPacketForTlsChloExtraction(cid protocol.ConnectionID, version protocol.VersionNumber, packet []byte, headerLen int) (gotChlo bool, gotAlert bool, alert uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(cid.Bytes())
	l, ok := s.lists[key]
	if !ok {
		l = &BufferedPacketList{IETF: true, Version: version, CreatedAt: time.Now()}
		s.lists[key] = l
	}
	if l.chloState == nil {
		state, err := newTLSChloExtractorState(cid, version)
		if err != nil {
			return false, true, 10 // treat key derivation failure as unexpected_message
		}
		l.chloState = state
	}
	l.chloState.Ingest(packet, headerLen)

	switch l.chloState.state {
	case tlsChloParsedFull:
		l.ParsedChlo = l.chloState.chlo
		if _, already := s.chloReadyElems[key]; !already {
			s.chloReadyElems[key] = s.chloReadyOrder.PushBack(key)
		}
		return true, false, 0
	case tlsChloAlert:
		return false, true, l.chloState.alert
	default:
		return false, false, 0
	}
}

// DiscardPackets implements spec.md §4.C.
func (s *bufferedPacketStore) DiscardPackets(cid protocol.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardLocked(string(cid.Bytes()))
}

// DiscardAllPackets implements spec.md §4.C.
func (s *bufferedPacketStore) DiscardAllPackets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = make(map[string]*BufferedPacketList)
	s.chloReadyOrder = list.New()
	s.chloReadyElems = make(map[string]*list.Element)
}

// ExpireOlderThan implements the expiry sweep of spec.md §4.C: invokes onExpired
// for every list older than maxAge as of now, then discards it.
func (s *bufferedPacketStore) ExpireOlderThan(now time.Time, maxAge time.Duration, onExpired func(cid protocol.ConnectionID, l *BufferedPacketList)) {
	s.mu.Lock()
	var expired []string
	for key, l := range s.lists {
		if now.Sub(l.CreatedAt) > maxAge {
			expired = append(expired, key)
		}
	}
	s.mu.Unlock()

	for _, key := range expired {
		s.mu.Lock()
		l, ok := s.lists[key]
		if ok {
			s.discardLocked(key)
		}
		s.mu.Unlock()
		if ok {
			onExpired(protocol.ConnectionID([]byte(key)), l)
		}
	}
}

// Stats reports the number of distinct connection IDs currently holding a
// BufferedPacketList, and the total datagrams buffered across all of them,
// for metrics.go's gauges.
func (s *bufferedPacketStore) Stats() (connections, packets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connections = len(s.lists)
	for _, l := range s.lists {
		packets += len(l.Packets)
	}
	return connections, packets
}
