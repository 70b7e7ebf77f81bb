package dispatcher

import (
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ name string }

func (fakeSession) ProcessUDPPacket(*ReceivedPacket)                     {}
func (fakeSession) SetOriginalDestinationConnectionID(protocol.ConnectionID) {}
func (fakeSession) Close(error)                                          {}

func TestConnIDMapInsertAndFind(t *testing.T) {
	m := newConnIDMap()
	cid := protocol.ConnectionID{1, 2, 3, 4}
	sess := fakeSession{name: "a"}

	require.True(t, m.Insert(cid, sess))
	found, ok := m.Find(cid)
	require.True(t, ok)
	require.Equal(t, sess, found)
}

func TestConnIDMapInsertCollisionRejected(t *testing.T) {
	m := newConnIDMap()
	cid := protocol.ConnectionID{1, 2, 3, 4}
	require.True(t, m.Insert(cid, fakeSession{name: "first"}))
	require.False(t, m.Insert(cid, fakeSession{name: "second"}))

	found, ok := m.Find(cid)
	require.True(t, ok)
	require.Equal(t, fakeSession{name: "first"}, found)
}

func TestConnIDMapTryAddNewConnectionId(t *testing.T) {
	m := newConnIDMap()
	existing := protocol.ConnectionID{1}
	sess := fakeSession{name: "a"}
	require.True(t, m.Insert(existing, sess))

	newCID := protocol.ConnectionID{2}
	require.True(t, m.TryAddNewConnectionId(existing, newCID))

	found, ok := m.Find(newCID)
	require.True(t, ok)
	require.Equal(t, sess, found)
}

func TestConnIDMapTryAddNewConnectionIdUnknownExisting(t *testing.T) {
	m := newConnIDMap()
	require.False(t, m.TryAddNewConnectionId(protocol.ConnectionID{9}, protocol.ConnectionID{10}))
}

func TestConnIDMapEraseAndRetire(t *testing.T) {
	m := newConnIDMap()
	cid := protocol.ConnectionID{7}
	require.True(t, m.Insert(cid, fakeSession{}))
	m.OnConnectionIdRetired(cid)
	_, ok := m.Find(cid)
	require.False(t, ok)
	require.Equal(t, 0, m.Len())
}
