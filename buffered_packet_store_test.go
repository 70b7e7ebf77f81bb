package dispatcher

import (
	"testing"
	"time"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestBufferedPacketStoreEnqueueAndDeliver(t *testing.T) {
	s := newBufferedPacketStore(4, 4)
	cid := protocol.ConnectionID{1}
	now := time.Now()

	res := s.Enqueue(cid, true, BufferedPacket{Data: []byte("a")}, protocol.Version1, nil, now)
	require.Equal(t, EnqueueSuccess, res)
	require.True(t, s.HasBufferedPackets(cid))
	require.False(t, s.HasChloForConnection(cid))

	l := s.DeliverPackets(cid)
	require.NotNil(t, l)
	require.Len(t, l.Packets, 1)
	require.False(t, s.HasBufferedPackets(cid))
}

func TestBufferedPacketStoreTooManyPackets(t *testing.T) {
	s := newBufferedPacketStore(1, 4)
	cid := protocol.ConnectionID{1}
	now := time.Now()
	require.Equal(t, EnqueueSuccess, s.Enqueue(cid, true, BufferedPacket{}, protocol.Version1, nil, now))
	require.Equal(t, EnqueueTooManyPackets, s.Enqueue(cid, true, BufferedPacket{}, protocol.Version1, nil, now))
}

func TestBufferedPacketStoreCHLOAlreadyDelivered(t *testing.T) {
	s := newBufferedPacketStore(4, 4)
	cid := protocol.ConnectionID{1}
	now := time.Now()
	require.Equal(t, EnqueueSuccess, s.Enqueue(cid, true, BufferedPacket{}, protocol.Version1, &ParsedChlo{}, now))
	require.Equal(t, EnqueueCHLOAlreadyDelivered, s.Enqueue(cid, true, BufferedPacket{}, protocol.Version1, nil, now))
}

func TestBufferedPacketStoreFIFOAcrossConnections(t *testing.T) {
	s := newBufferedPacketStore(4, 4)
	now := time.Now()
	cidA := protocol.ConnectionID{1}
	cidB := protocol.ConnectionID{2}

	require.Equal(t, EnqueueSuccess, s.Enqueue(cidA, true, BufferedPacket{}, protocol.Version1, &ParsedChlo{SNI: "a"}, now))
	require.Equal(t, EnqueueSuccess, s.Enqueue(cidB, true, BufferedPacket{}, protocol.Version1, &ParsedChlo{SNI: "b"}, now))

	gotCID, l := s.DeliverPacketsForNextConnection()
	require.True(t, gotCID.Equal(cidA))
	require.Equal(t, "a", l.ParsedChlo.SNI)

	gotCID2, l2 := s.DeliverPacketsForNextConnection()
	require.True(t, gotCID2.Equal(cidB))
	require.Equal(t, "b", l2.ParsedChlo.SNI)
}

func TestBufferedPacketStoreConnectionPoolFullEvictsOldest(t *testing.T) {
	s := newBufferedPacketStore(4, 1)
	now := time.Now()
	cidA := protocol.ConnectionID{1}
	cidB := protocol.ConnectionID{2}

	require.Equal(t, EnqueueSuccess, s.Enqueue(cidA, true, BufferedPacket{}, protocol.Version1, nil, now))
	require.Equal(t, EnqueueSuccess, s.Enqueue(cidB, true, BufferedPacket{}, protocol.Version1, nil, now.Add(time.Second)))

	require.False(t, s.HasBufferedPackets(cidA)) // evicted to make room
	require.True(t, s.HasBufferedPackets(cidB))
}

func TestBufferedPacketStoreExpiry(t *testing.T) {
	s := newBufferedPacketStore(4, 4)
	cid := protocol.ConnectionID{1}
	now := time.Now()
	require.Equal(t, EnqueueSuccess, s.Enqueue(cid, true, BufferedPacket{}, protocol.Version1, nil, now))

	var expiredCID protocol.ConnectionID
	s.ExpireOlderThan(now.Add(10*time.Second), 5*time.Second, func(c protocol.ConnectionID, l *BufferedPacketList) {
		expiredCID = c
	})
	require.True(t, expiredCID.Equal(cid))
	require.False(t, s.HasBufferedPackets(cid))
}
