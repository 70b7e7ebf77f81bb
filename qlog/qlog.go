// Package qlog is the dispatcher's structured event log: a bounded
// channel of typed events, drained by one goroutine per output and
// encoded as newline-delimited JSON with github.com/francoispqt/gojay,
// the same encoder quic-go uses for its qlog trace files. Unlike the
// teacher's per-connection qlog trace (a single JSON array wrapping a
// vantage point and a reference time), the dispatcher never owns a
// connection long enough to justify that structure: every event here is
// a self-contained line carrying its own timestamp.
package qlog

import (
	"encoding/hex"
	"io"
	"net"
	"time"

	"github.com/francoispqt/gojay"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/logging"
)

const eventChanSize = 128

type tracer struct {
	w      io.WriteCloser
	events chan gojay.MarshalerJSONObject
	done   chan struct{}
}

var _ logging.Tracer = &tracer{}

// NewTracer returns a logging.Tracer that encodes every event as one
// NDJSON line written to w. Writes happen on a dedicated goroutine so
// that a slow writer never blocks the dispatch hot path; the channel is
// bounded, and a full channel drops the event rather than applying
// backpressure to packet processing.
func NewTracer(w io.WriteCloser) logging.Tracer {
	t := &tracer{
		w:      w,
		events: make(chan gojay.MarshalerJSONObject, eventChanSize),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *tracer) run() {
	defer close(t.done)
	enc := gojay.NewEncoder(t.w)
	for ev := range t.events {
		enc.Encode(ev)
		t.w.Write([]byte("\n"))
	}
}

// Close stops accepting new events, waits for the queue to drain, and
// closes the underlying writer.
func (t *tracer) Close() error {
	close(t.events)
	<-t.done
	return t.w.Close()
}

func (t *tracer) emit(ev gojay.MarshalerJSONObject) {
	select {
	case t.events <- ev:
	default:
		// queue full: drop rather than stall dispatch
	}
}

func (t *tracer) SentVersionNegotiationPacket(remote net.Addr, destConnID, srcConnID protocol.ConnectionID, supported []protocol.VersionNumber) {
	t.emit(&eventVersionNegotiationSent{
		time:       time.Now(),
		remote:     remote,
		destConnID: destConnID,
		srcConnID:  srcConnID,
		supported:  supported,
	})
}

func (t *tracer) SentStatelessReset(remote net.Addr, connID protocol.ConnectionID) {
	t.emit(&eventStatelessResetSent{
		time:   time.Now(),
		remote: remote,
		connID: connID,
	})
}

func (t *tracer) DroppedPacket(remote net.Addr, packetType logging.PacketType, size protocol.ByteCount, reason logging.PacketDropReason) {
	t.emit(&eventPacketDropped{
		time:       time.Now(),
		remote:     remote,
		packetType: packetType,
		size:       size,
		reason:     reason,
	})
}

func (t *tracer) BufferedPacket(connID protocol.ConnectionID, packetType logging.PacketType) {
	t.emit(&eventPacketBuffered{
		time:       time.Now(),
		connID:     connID,
		packetType: packetType,
	})
}

func (t *tracer) ClosedConnection(connID protocol.ConnectionID, reason logging.CloseReason) {
	t.emit(&eventConnectionClosed{
		time:   time.Now(),
		connID: connID,
		reason: reason,
	})
}

// --- event encodings ---

type eventVersionNegotiationSent struct {
	time       time.Time
	remote     net.Addr
	destConnID protocol.ConnectionID
	srcConnID  protocol.ConnectionID
	supported  []protocol.VersionNumber
}

func (e *eventVersionNegotiationSent) IsNil() bool { return e == nil }

func (e *eventVersionNegotiationSent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("time", e.time.Format(time.RFC3339Nano))
	enc.AddStringKey("name", "sent_version_negotiation")
	enc.AddStringKey("remote", addrString(e.remote))
	enc.AddStringKey("dst_cid", hex.EncodeToString(e.destConnID.Bytes()))
	enc.AddStringKey("src_cid", hex.EncodeToString(e.srcConnID.Bytes()))
	enc.AddArrayKey("supported_versions", versionSlice(e.supported))
}

type eventStatelessResetSent struct {
	time   time.Time
	remote net.Addr
	connID protocol.ConnectionID
}

func (e *eventStatelessResetSent) IsNil() bool { return e == nil }

func (e *eventStatelessResetSent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("time", e.time.Format(time.RFC3339Nano))
	enc.AddStringKey("name", "sent_stateless_reset")
	enc.AddStringKey("remote", addrString(e.remote))
	enc.AddStringKey("connection_id", hex.EncodeToString(e.connID.Bytes()))
}

type eventPacketDropped struct {
	time       time.Time
	remote     net.Addr
	packetType logging.PacketType
	size       protocol.ByteCount
	reason     logging.PacketDropReason
}

func (e *eventPacketDropped) IsNil() bool { return e == nil }

func (e *eventPacketDropped) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("time", e.time.Format(time.RFC3339Nano))
	enc.AddStringKey("name", "packet_dropped")
	enc.AddStringKey("remote", addrString(e.remote))
	enc.AddStringKey("packet_type", e.packetType.String())
	enc.AddInt64Key("packet_size", int64(e.size))
	enc.AddStringKey("trigger", e.reason.String())
}

type eventPacketBuffered struct {
	time       time.Time
	connID     protocol.ConnectionID
	packetType logging.PacketType
}

func (e *eventPacketBuffered) IsNil() bool { return e == nil }

func (e *eventPacketBuffered) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("time", e.time.Format(time.RFC3339Nano))
	enc.AddStringKey("name", "packet_buffered")
	enc.AddStringKey("connection_id", hex.EncodeToString(e.connID.Bytes()))
	enc.AddStringKey("packet_type", e.packetType.String())
}

type eventConnectionClosed struct {
	time   time.Time
	connID protocol.ConnectionID
	reason logging.CloseReason
}

func (e *eventConnectionClosed) IsNil() bool { return e == nil }

func (e *eventConnectionClosed) MarshalJSONObject(enc *gojay.Encoder) {
	enc.AddStringKey("time", e.time.Format(time.RFC3339Nano))
	enc.AddStringKey("name", "connection_closed")
	enc.AddStringKey("connection_id", hex.EncodeToString(e.connID.Bytes()))
	enc.AddStringKey("reason", e.reason.String())
}

type versionSlice []protocol.VersionNumber

func (v versionSlice) IsNil() bool     { return v == nil }
func (v versionSlice) MarshalJSONArray(enc *gojay.Encoder) {
	for _, ver := range v {
		enc.AddString(ver.String())
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
