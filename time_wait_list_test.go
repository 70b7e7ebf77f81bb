package dispatcher

import (
	"net"
	"testing"
	"time"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

type recordingSendConn struct {
	writes [][]byte
	addrs  []net.Addr
}

func (r *recordingSendConn) WriteTo(b []byte, addr net.Addr) error {
	r.writes = append(r.writes, append([]byte(nil), b...))
	r.addrs = append(r.addrs, addr)
	return nil
}

func (r *recordingSendConn) LocalAddr() net.Addr { return &net.UDPAddr{} }

func TestTimeWaitListStatelessResetRateLimited(t *testing.T) {
	conn := &recordingSendConn{}
	l := newTimeWaitList(newStatelessResetter(nil), conn, nil, nil)

	cid := protocol.ConnectionID{1, 2, 3}
	now := time.Now()
	l.AddConnectionIdToTimeWait(ActionSendStatelessReset, TimeWaitInfo{ConnectionIDs: []protocol.ConnectionID{cid}}, now, time.Minute)

	peer := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 55000}
	l.ProcessPacket(nil, peer, cid, 50)
	l.ProcessPacket(nil, peer, cid, 50)
	l.ProcessPacket(nil, peer, cid, 50)

	require.Len(t, conn.writes, 2) // 1st and 2nd arrivals: OnesCount32(1)==1, OnesCount32(2)==1, OnesCount32(3)==2
}

func TestTimeWaitListUnknownCIDIsNoop(t *testing.T) {
	conn := &recordingSendConn{}
	l := newTimeWaitList(newStatelessResetter(nil), conn, nil, nil)
	l.ProcessPacket(nil, &net.UDPAddr{}, protocol.ConnectionID{9, 9}, 50)
	require.Empty(t, conn.writes)
}

func TestTimeWaitListSweepExpires(t *testing.T) {
	conn := &recordingSendConn{}
	l := newTimeWaitList(newStatelessResetter(nil), conn, nil, nil)
	cid := protocol.ConnectionID{5}
	now := time.Now()
	l.AddConnectionIdToTimeWait(ActionDoNothing, TimeWaitInfo{ConnectionIDs: []protocol.ConnectionID{cid}}, now, time.Millisecond)

	require.True(t, l.IsConnectionIdInTimeWait(cid))
	l.Sweep(now.Add(time.Second))
	require.False(t, l.IsConnectionIdInTimeWait(cid))
}

func TestTimeWaitListSendVersionNegotiation(t *testing.T) {
	conn := &recordingSendConn{}
	l := newTimeWaitList(newStatelessResetter(nil), conn, nil, nil)
	dst := protocol.ConnectionID{1}
	src := protocol.ConnectionID{2}
	l.SendVersionNegotiationPacket(dst, src, nil, &net.UDPAddr{}, []protocol.VersionNumber{protocol.Version1})
	require.Len(t, conn.writes, 1)
}
