package dispatcher

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/internal/utils"
	"github.com/qdispatch/qdispatch/internal/wire"
	"github.com/qdispatch/qdispatch/logging"
)

// sourcePort extracts the UDP source port from a net.Addr, for the
// blocked-port check of spec.md §4.G step 2. Non-UDP addresses (only seen
// in tests) are never blocked.
func sourcePort(addr net.Addr) (uint16, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, false
	}
	return uint16(udpAddr.Port), true
}

// Dispatcher implements component G (spec.md §4.G): the ProcessPacket
// routing pipeline tying together the public-header parser (A), the CHLO
// extractors (B), the buffered-packet store (C), the time-wait list (D),
// the stateless terminator (E), the connection-ID map (F), and the
// lifecycle alarms (H).
type Dispatcher struct {
	config *Config

	conn   sendConn
	conns  *connIDMap
	store  *bufferedPacketStore
	waits  *timeWaitList
	resets *recentResetSet
	alarms *lifecycleAlarms

	terminator *statelessTerminator
	factory    SessionFactory
	checker    ValidityChecker

	tracer logging.Tracer
	logger utils.Logger

	mu                         sync.Mutex
	expectedServerCIDLength    int
	acceptingNewConnections    bool
	newSessionsAllowedThisTurn int
	lastError                  error
	blocked                    writeBlockedList
	sessionVersions            map[string]protocol.VersionNumber

	droppedBlockedPort atomic.Uint64
}

// NewDispatcher constructs a Dispatcher. conn is the socket it writes
// stateless replies to; factory creates sessions for CHLOs that clear all
// validity checks. A nil checker uses DefaultValidityChecker.
func NewDispatcher(config *Config, conn net.PacketConn, factory SessionFactory, checker ValidityChecker, logger utils.Logger) (*Dispatcher, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = populateConfig(config)
	if logger == nil {
		logger = utils.NopLogger{}
	}
	if checker == nil {
		checker = DefaultValidityChecker{}
	}

	var resetKey *StatelessResetKey
	if config.StatelessResetKey != nil {
		var key StatelessResetKey
		copy(key[:], config.StatelessResetKey)
		resetKey = &key
	}

	sc := newSendConn(conn, logger)
	resets := newRecentResetSet(config.MaxRecentStatelessResetAddresses)

	d := &Dispatcher{
		config:                     config,
		conn:                       sc,
		conns:                      newConnIDMap(),
		store:                      newBufferedPacketStore(config.MaxPacketsPerConnection, config.MaxBufferedConnections),
		waits:                      newTimeWaitList(newStatelessResetter(resetKey), sc, config.Tracer, logger),
		resets:                     resets,
		alarms:                     newLifecycleAlarms(resets, config.RecentStatelessResetAddressesLifetime, logger),
		terminator:                 newStatelessTerminator(),
		factory:                    factory,
		checker:                    checker,
		tracer:                     config.Tracer,
		logger:                     logger,
		expectedServerCIDLength:    config.ConnectionIDLength,
		acceptingNewConnections:    true,
		newSessionsAllowedThisTurn: config.NewSessionsAllowedPerEventLoop,
		sessionVersions:            make(map[string]protocol.VersionNumber),
	}
	return d, nil
}

// ProcessPacket implements spec.md §4.G: the full routing pipeline for one
// received datagram. It never returns an error to the caller; ProcessPacket
// is infallible from the socket's perspective (spec.md §7).
func (d *Dispatcher) ProcessPacket(self, peer net.Addr, data []byte) {
	now := time.Now()

	d.mu.Lock()
	cidLen := d.expectedServerCIDLength
	d.mu.Unlock()

	info, err := wire.ParsePublicHeader(data, cidLen)
	if err != nil {
		d.mu.Lock()
		d.lastError = err
		d.mu.Unlock()
		d.dropPacket(peer, logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropHeaderParseError)
		return
	}

	if d.maybeDispatchPacket(self, peer, data, info, now) {
		return
	}
	d.processHeader(self, peer, data, info, now)
}

// maybeDispatchPacket implements spec.md §4.G step 2, the fast path.
// Returns true iff the packet was fully handled.
func (d *Dispatcher) maybeDispatchPacket(self, peer net.Addr, data []byte, info *PacketInfo, now time.Time) bool {
	if port, ok := sourcePort(peer); ok {
		if _, blocked := BlockedSourcePorts[port]; blocked {
			d.droppedBlockedPort.Add(1)
			d.dropPacket(peer, packetTypeFor(info), protocol.ByteCount(len(data)), logging.PacketDropDOSPrevention)
			return true
		}
	}

	if info.VersionFlag && info.Version.IsKnown() && info.DestConnectionID.Len() < protocol.MinConnectionIDLenInitial &&
		info.Form == protocol.FormIETFLongHeader && info.LongPacketType == protocol.LongHeaderTypeInitial {
		d.dropPacket(peer, packetTypeFor(info), protocol.ByteCount(len(data)), logging.PacketDropHeaderParseError)
		return true
	}

	if sess, ok := d.conns.Find(info.DestConnectionID); ok {
		if d.maybeRedispatchLegacyEncapsulation(info, data, self, peer) {
			return true
		}
		d.deliverToSession(sess, self, peer, data, now)
		return true
	}

	if d.config.ConnectionIDGenerator != nil {
		if replaced, ok := d.config.ConnectionIDGenerator.MaybeReplaceConnectionId(info.DestConnectionID, info.Version); ok {
			if sess, ok := d.conns.Find(replaced); ok {
				d.deliverToSession(sess, self, peer, data, now)
				return true
			}
		}
	}

	if d.store.HasBufferedPackets(info.DestConnectionID) {
		// A list already exists for this CID: re-enter the same extraction
		// path the first packet took instead of just enqueuing, so a TLS
		// CHLO's chloState advances across every arrival, not just the
		// one that created the list (spec.md §4.B).
		d.extractCHLO(self, peer, data, info, now)
		return true
	}

	if d.waits.IsConnectionIdInTimeWait(info.DestConnectionID) {
		d.waits.ProcessPacket(self, peer, info.DestConnectionID, len(data))
		return true
	}

	d.mu.Lock()
	accepting := d.acceptingNewConnections
	d.mu.Unlock()
	if !accepting && info.VersionFlag {
		d.statelesslyTerminate(info.DestConnectionID, info.DestConnectionID, info.Version, HandshakeFailed, "server not accepting new connections")
		return true
	}

	if info.VersionFlag && !info.Version.IsKnown() {
		if len(data) >= int(protocol.MinInitialPacketSize) {
			d.waits.SendVersionNegotiationPacket(info.SrcConnectionID, info.DestConnectionID, self, peer, d.config.Versions)
		}
		d.dropPacket(peer, packetTypeFor(info), protocol.ByteCount(len(data)), logging.PacketDropUnsupportedVersion)
		return true
	}

	if info.VersionFlag && info.Form == protocol.FormIETFLongHeader && info.LongPacketType == protocol.LongHeaderTypeInitial &&
		len(data) < int(protocol.MinInitialPacketSize) {
		d.dropPacket(peer, packetTypeFor(info), protocol.ByteCount(len(data)), logging.PacketDropDOSPrevention)
		return true
	}

	return false
}

// dropPacket records a drop against both the qlog-style tracer and the
// prometheus counter, keeping the two observability surfaces in sync.
func (d *Dispatcher) dropPacket(peer net.Addr, ptype logging.PacketType, size protocol.ByteCount, reason logging.PacketDropReason) {
	d.tracer.DroppedPacket(peer, ptype, size, reason)
	RecordPacketDropped(reason.String())
}

func packetTypeFor(info *PacketInfo) logging.PacketType {
	switch info.Form {
	case protocol.FormIETFLongHeader:
		switch info.LongPacketType {
		case protocol.LongHeaderTypeInitial:
			return logging.PacketTypeInitial
		case protocol.LongHeaderType0RTT:
			return logging.PacketType0RTT
		case protocol.LongHeaderTypeHandshake:
			return logging.PacketTypeHandshake
		case protocol.LongHeaderTypeRetry:
			return logging.PacketTypeRetry
		}
	case protocol.FormIETFShortHeader:
		return logging.PacketType1RTT
	}
	return logging.PacketTypeNotDetermined
}

func (d *Dispatcher) deliverToSession(sess Session, self, peer net.Addr, data []byte, now time.Time) {
	sess.ProcessUDPPacket(&ReceivedPacket{Data: data, ReceivedAt: now, SelfAddr: self, PeerAddr: peer})
}

// noteSessionVersion records the version a session was created under, for
// §4.I's "session's negotiated version differs" check. Called once per
// connection ID the session answers to.
func (d *Dispatcher) noteSessionVersion(cid protocol.ConnectionID, version protocol.VersionNumber) {
	d.mu.Lock()
	d.sessionVersions[string(cid.Bytes())] = version
	d.mu.Unlock()
}

func (d *Dispatcher) forgetSessionVersion(cid protocol.ConnectionID) {
	d.mu.Lock()
	delete(d.sessionVersions, string(cid.Bytes()))
	d.mu.Unlock()
}

func (d *Dispatcher) sessionVersion(cid protocol.ConnectionID) (protocol.VersionNumber, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.sessionVersions[string(cid.Bytes())]
	return v, ok
}

// maybeRedispatchLegacyEncapsulation implements spec.md §4.I: an outer
// packet in the legacy-encapsulation sentinel version, addressed to a
// session already negotiated under a different version, carries an inner
// packet of that other version as its payload. Parse the inner packet's
// public header, verify its destination CID matches the outer one (the
// only authentication this mechanism has), zero-pad it to the outer
// datagram's length to preserve anti-amplification accounting, and
// re-enter ProcessPacket with it. Returns false (outer packet falls
// through to ordinary session delivery) for anything that doesn't match.
func (d *Dispatcher) maybeRedispatchLegacyEncapsulation(info *PacketInfo, data []byte, self, peer net.Addr) bool {
	if d.config.DisableLegacyVersionEncapsulation {
		return false
	}
	if info.Version != protocol.VersionGQUICCompat {
		return false
	}
	negotiated, ok := d.sessionVersion(info.DestConnectionID)
	if !ok || negotiated == protocol.VersionGQUICCompat {
		return false
	}
	return d.redispatchInnerPacket(info.DestConnectionID, data[info.ParsedLen:], len(data), self, peer)
}

// redispatchInnerPacket implements the parse/verify/pad/re-enter steps §4.I
// shares between the dispatch-time encapsulation above and the
// CHLO-time encapsulation a legacy CHLO's CCS tag can carry (see
// extractLegacyCHLO).
func (d *Dispatcher) redispatchInnerPacket(outerDCID protocol.ConnectionID, inner []byte, outerLen int, self, peer net.Addr) bool {
	if len(inner) == 0 {
		return false
	}
	d.mu.Lock()
	cidLen := d.expectedServerCIDLength
	d.mu.Unlock()
	innerInfo, err := wire.ParsePublicHeader(inner, cidLen)
	if err != nil {
		return false
	}
	if !innerInfo.DestConnectionID.Equal(outerDCID) {
		return false
	}
	padded := inner
	if len(padded) < outerLen {
		padded = append(append([]byte(nil), inner...), make([]byte, outerLen-len(inner))...)
	}
	d.ProcessPacket(self, peer, padded)
	return true
}

func (d *Dispatcher) bufferEarlyPacket(cid protocol.ConnectionID, info *PacketInfo, data []byte, self, peer net.Addr, now time.Time) {
	pkt := BufferedPacket{Data: append([]byte(nil), data...), SelfAddr: self, PeerAddr: peer, Received: now}
	res := d.store.Enqueue(cid, info.Form != protocol.FormGoogleQUIC, pkt, info.Version, nil, now)
	if res != EnqueueSuccess {
		d.onBufferPacketFailure(res, cid)
	} else {
		d.tracer.BufferedPacket(cid, packetTypeFor(info))
	}
}

func (d *Dispatcher) onBufferPacketFailure(res EnqueueResult, cid protocol.ConnectionID) {
	d.logger.Debugf("buffer packet failure for %s: %v", cid, res)
}

// onNewConnectionRejected implements spec.md §6's OnNewConnectionRejected:
// the factory either returned an error or declined (nil, nil), a
// deliberate refusal distinct from a validity-check drop. Nothing is sent
// to the peer either way: a factory refusal is silent by contract.
func (d *Dispatcher) onNewConnectionRejected(cid protocol.ConnectionID, err error) {
	metricNewConnectionsRejected.Inc()
	if err != nil {
		d.logger.Debugf("session factory declined %s: %v", cid, err)
	} else {
		d.logger.Debugf("session factory declined %s", cid)
	}
}

// processHeader implements spec.md §4.G step 3 onward (the slow path).
func (d *Dispatcher) processHeader(self, peer net.Addr, data []byte, info *PacketInfo, now time.Time) {
	fate := d.checker.ValidityChecks(info)
	switch fate {
	case FateDrop:
		return
	case FateTimeWait:
		d.timeWaitNoVersion(info, data, self, peer, now)
		return
	}

	d.extractCHLO(self, peer, data, info, now)
}

// timeWaitNoVersion implements spec.md §4.G step 3's default rule:
// "no-version packet for unknown CID -> MaybeResetPacketsWithNoVersion,
// drop." A short-header packet from an unknown CID may deserve an
// immediate stateless reset; anything else is just dropped.
func (d *Dispatcher) timeWaitNoVersion(info *PacketInfo, data []byte, self, peer net.Addr, now time.Time) {
	if info.Form == protocol.FormIETFShortHeader {
		if d.resets.ShouldSend(peer) {
			d.waits.SendPublicReset(self, peer, info.DestConnectionID, len(data))
			d.alarms.NoteStatelessReset()
		}
	}
}

// extractCHLO implements spec.md §4.G step 4: drive the appropriate CHLO
// extractor and act on {Alert, Partial, Full CHLO}.
func (d *Dispatcher) extractCHLO(self, peer net.Addr, data []byte, info *PacketInfo, now time.Time) {
	if info.Version.UsesTLS() {
		d.extractTLSCHLO(self, peer, data, info, now)
		return
	}
	d.extractLegacyCHLO(self, peer, data, info, now)
}

func (d *Dispatcher) extractLegacyCHLO(self, peer net.Addr, data []byte, info *PacketInfo, now time.Time) {
	chlo, err := ExtractLegacyChlo(data[info.ParsedLen:])
	if err != nil {
		d.bufferEarlyPacket(info.DestConnectionID, info, data, self, peer, now)
		return
	}
	if !d.config.DisableLegacyVersionEncapsulation && len(chlo.LegacyEncapsulated) > 0 {
		if d.redispatchInnerPacket(info.DestConnectionID, chlo.LegacyEncapsulated, len(data), self, peer) {
			return
		}
	}
	d.processFullCHLO(self, peer, data, info, chlo, now)
}

func (d *Dispatcher) extractTLSCHLO(self, peer net.Addr, data []byte, info *PacketInfo, now time.Time) {
	gotChlo, gotAlert, alert := d.store.IngestPacketForTlsChloExtraction(info.DestConnectionID, info.Version, data, info.ParsedLen)
	if gotAlert {
		code, detail := errorCodeForAlert(alert)
		d.statelesslyTerminateWithDetail(info.DestConnectionID, info.DestConnectionID, info.Version, code, detail)
		return
	}
	if !gotChlo {
		pkt := BufferedPacket{Data: append([]byte(nil), data...), SelfAddr: self, PeerAddr: peer, Received: now}
		d.store.Enqueue(info.DestConnectionID, true, pkt, info.Version, nil, now)
		return
	}
	l := d.store.DeliverPackets(info.DestConnectionID)
	var chlo *ParsedChlo
	if l != nil {
		chlo = l.ParsedChlo
	}
	if chlo == nil {
		chlo = &ParsedChlo{}
	}
	d.processFullCHLOWithBuffered(self, peer, data, info, chlo, l, now)
}

func (d *Dispatcher) processFullCHLO(self, peer net.Addr, data []byte, info *PacketInfo, chlo *ParsedChlo, now time.Time) {
	d.processFullCHLOWithBuffered(self, peer, data, info, chlo, nil, now)
}

// processFullCHLOWithBuffered implements spec.md §4.G steps 4-5 once a
// full CHLO is in hand, optionally alongside already-buffered packets
// (from a multi-packet TLS CHLO) that must be delivered first-packet-first.
func (d *Dispatcher) processFullCHLOWithBuffered(self, peer net.Addr, data []byte, info *PacketInfo, chlo *ParsedChlo, buffered *BufferedPacketList, now time.Time) {
	if d.checker.ValidityChecksOnFullChlo(info, chlo) != FateProcess {
		d.timeWaitNoVersion(info, data, self, peer, now)
		return
	}
	d.processChlo(self, peer, data, info, chlo, buffered, now)
}

// processChlo implements spec.md §4.G step 5.
func (d *Dispatcher) processChlo(self, peer net.Addr, data []byte, info *PacketInfo, chlo *ParsedChlo, buffered *BufferedPacketList, now time.Time) {
	d.mu.Lock()
	quota := d.newSessionsAllowedThisTurn
	d.mu.Unlock()
	if quota <= 0 {
		ietf := info.Form != protocol.FormGoogleQUIC
		if buffered != nil {
			// re-buffer the earlier packets first (leaving room for the
			// CHLO), since a list that already holds a CHLO accepts no more
			for i, p := range buffered.Packets {
				if i+1 >= d.config.MaxPacketsPerConnection {
					break
				}
				d.store.Enqueue(info.DestConnectionID, ietf, p, info.Version, nil, now)
			}
		}
		pkt := BufferedPacket{Data: append([]byte(nil), data...), SelfAddr: self, PeerAddr: peer, Received: now}
		d.store.Enqueue(info.DestConnectionID, ietf, pkt, info.Version, chlo, now)
		return
	}

	serverCID := info.DestConnectionID
	replaced := false
	if d.config.ConnectionIDGenerator != nil {
		if r, ok := d.config.ConnectionIDGenerator.MaybeReplaceConnectionId(info.DestConnectionID, info.Version); ok {
			if _, exists := d.conns.Find(r); exists {
				d.statelesslyTerminateWithDetail(info.DestConnectionID, info.DestConnectionID, info.Version, ConnectionRefused, "Connection ID collision, please retry")
				return
			}
			serverCID = r
			replaced = true
		}
	}

	alpn := ""
	if len(chlo.ALPNs) > 0 {
		alpn = chlo.ALPNs[0]
	}
	sess, err := d.factory.CreateSession(serverCID, self, peer, alpn, info.Version, chlo)
	if err != nil || sess == nil {
		d.onNewConnectionRejected(serverCID, err)
		return
	}

	if !d.conns.Insert(serverCID, sess) {
		d.statelesslyTerminateWithDetail(info.DestConnectionID, info.DestConnectionID, info.Version, ConnectionRefused, "Connection ID collision, please retry")
		return
	}
	d.noteSessionVersion(serverCID, info.Version)
	if replaced && d.config.MapOriginalConnectionIDs {
		d.conns.Insert(info.DestConnectionID, sess)
		sess.SetOriginalDestinationConnectionID(info.DestConnectionID)
		d.noteSessionVersion(info.DestConnectionID, info.Version)
	}
	metricSessionsCreated.Inc()

	first := &ReceivedPacket{Data: data, ReceivedAt: now, SelfAddr: self, PeerAddr: peer}
	sess.ProcessUDPPacket(first)
	if buffered != nil {
		for _, p := range buffered.Packets {
			sess.ProcessUDPPacket(&ReceivedPacket{Data: p.Data, ReceivedAt: p.Received, SelfAddr: p.SelfAddr, PeerAddr: p.PeerAddr})
		}
	}

	d.mu.Lock()
	d.newSessionsAllowedThisTurn--
	d.mu.Unlock()
}

// statelesslyTerminate implements spec.md §4.G step 6's kFateTimeWait path
// for the common case of a synthesized CONNECTION_CLOSE.
func (d *Dispatcher) statelesslyTerminate(cid, originalCID protocol.ConnectionID, version protocol.VersionNumber, code ErrorCode, detail string) {
	d.statelesslyTerminateWithDetail(cid, originalCID, version, code, detail)
}

func (d *Dispatcher) statelesslyTerminateWithDetail(cid, originalCID protocol.ConnectionID, version protocol.VersionNumber, code ErrorCode, detail string) {
	var packet []byte
	if version.IsKnown() {
		p, err := d.terminator.Terminate(cid, originalCID, version, code, detail)
		if err == nil {
			packet = p
		}
	}
	action := ActionDoNothing
	if packet != nil {
		action = ActionSendTerminationPackets
	}
	d.waits.AddConnectionIdToTimeWait(action, TimeWaitInfo{
		ConnectionIDs: []protocol.ConnectionID{cid},
		SavedPackets:  packet,
		IETF:          version != protocol.VersionGQUICCompat,
	}, time.Now(), d.config.InitialIdleTimeout)

	// Any packets buffered for this connection ID will never get a
	// session now; draining them drops the dispatcher's only reference.
	d.store.DeliverPackets(cid)
	d.tracer.ClosedConnection(cid, logging.CloseReasonStatelessTerminate)
}

// OnConnectionClosed implements spec.md §6's session->dispatcher callback:
// erase every ID the session owned from the map, migrate them all into
// time-wait sharing one action, then defer the session's own destruction
// to the next alarm tick (spec.md §5 "Cancellation").
func (d *Dispatcher) OnConnectionClosed(sess Session, ids []protocol.ConnectionID, code ErrorCode, detail string, closePacket []byte) {
	for _, id := range ids {
		d.conns.Erase(id)
		d.forgetSessionVersion(id)
	}
	action := ActionSendConnectionClosePackets
	if closePacket == nil {
		action = ActionDoNothing
	}
	d.waits.AddConnectionIdToTimeWait(action, TimeWaitInfo{
		ConnectionIDs: ids,
		SavedPackets:  closePacket,
		IETF:          true,
	}, time.Now(), d.config.InitialIdleTimeout)
	d.alarms.QueueSessionForDeferredDestruction(sess)
	for _, id := range ids {
		d.tracer.ClosedConnection(id, logging.CloseReasonStatelessTerminate)
	}
}

// TryAddNewConnectionId implements spec.md §6.
func (d *Dispatcher) TryAddNewConnectionId(existing, newCID protocol.ConnectionID) bool {
	if !d.conns.TryAddNewConnectionId(existing, newCID) {
		return false
	}
	if version, ok := d.sessionVersion(existing); ok {
		d.noteSessionVersion(newCID, version)
	}
	return true
}

// OnConnectionIdRetired implements spec.md §6.
func (d *Dispatcher) OnConnectionIdRetired(cid protocol.ConnectionID) {
	d.conns.OnConnectionIdRetired(cid)
	d.forgetSessionVersion(cid)
}

// OnWriteBlocked implements spec.md §5/§6: w gets one retry on the next
// OnCanWrite call.
func (d *Dispatcher) OnWriteBlocked(w BlockedWriter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked.add(w)
}

// OnCanWrite implements spec.md §5: every writer queued via OnWriteBlocked
// since the last call gets exactly one OnCanWrite, in arrival order.
func (d *Dispatcher) OnCanWrite() {
	d.mu.Lock()
	pending := d.blocked.drain()
	d.mu.Unlock()
	for _, w := range pending {
		w.OnCanWrite()
	}
}

// ProcessBufferedChlos implements spec.md §4.G / §5: deliver at most
// config.MaxConnectionsToCreate buffered CHLOs, in FIFO order of CHLO
// completion, bounded further by the remaining per-turn session-creation
// quota. Intended to be called once per event-loop turn by the embedder.
func (d *Dispatcher) ProcessBufferedChlos(self net.Addr) int {
	d.mu.Lock()
	d.newSessionsAllowedThisTurn = d.config.NewSessionsAllowedPerEventLoop
	d.mu.Unlock()

	created := 0
	for created < d.config.MaxConnectionsToCreate {
		d.mu.Lock()
		quota := d.newSessionsAllowedThisTurn
		d.mu.Unlock()
		if quota <= 0 {
			break
		}

		cid, l := d.store.DeliverPacketsForNextConnection()
		if l == nil {
			break
		}
		if len(l.Packets) == 0 || l.ParsedChlo == nil {
			continue
		}
		first := l.Packets[0]
		info, err := wire.ParsePublicHeader(first.Data, cid.Len())
		if err != nil {
			continue
		}
		rest := &BufferedPacketList{Packets: l.Packets[1:], ParsedChlo: l.ParsedChlo, Version: l.Version}
		d.processChlo(first.SelfAddr, first.PeerAddr, first.Data, info, l.ParsedChlo, rest, first.Received)
		created++
	}
	return created
}

// Shutdown implements spec.md §4.K: close every live session with
// PeerGoingAway, driving the normal OnConnectionClosed path for each, then
// stop the lifecycle alarms. Sessions are closed concurrently through an
// errgroup.Group rather than a raw sync.WaitGroup, and Shutdown waits for
// every Close call to return. A panic inside one Close is not recovered.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.acceptingNewConnections = false
	d.mu.Unlock()

	d.conns.mu.Lock()
	sessions := make([]Session, 0, len(d.conns.sessions))
	for _, s := range d.conns.sessions {
		sessions = append(sessions, s)
	}
	d.conns.mu.Unlock()

	err := NewTransportError(PeerGoingAway, "Server shutdown imminent")
	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.Close(err)
			return nil
		})
	}
	g.Wait()
	d.alarms.Stop()
}

// LastError returns the most recent public-header framing error observed,
// for diagnostics (spec.md §7, "record as last_error_").
func (d *Dispatcher) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}
