package dispatcher

import (
	"sync"

	"github.com/qdispatch/qdispatch/internal/protocol"
)

// connIDMap implements component F (spec.md §4.F): the mapping from
// connection ID to shared session handle. Multiple IDs may point at the
// same session; Insert/Erase/TryAddNewConnectionId/OnConnectionIdRetired
// are the only ways in or out, matching the ConnectionIdMap invariants of
// spec.md §3: while a session is live, every ID it owns is present here,
// and no ID present here also has a BufferedPacketList.
type connIDMap struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func newConnIDMap() *connIDMap {
	return &connIDMap{sessions: make(map[string]Session)}
}

// Insert adds cid -> sess, returning false if cid was already present (the
// fatal routing collision of spec.md §4.F: the caller must statelessly
// reject the newcomer and leave the existing session untouched).
func (m *connIDMap) Insert(cid protocol.ConnectionID, sess Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(cid.Bytes())
	if _, ok := m.sessions[key]; ok {
		return false
	}
	m.sessions[key] = sess
	return true
}

// Find returns the session owning cid, if any.
func (m *connIDMap) Find(cid protocol.ConnectionID) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[string(cid.Bytes())]
	return sess, ok
}

// Erase removes cid unconditionally. Used both for a single retired ID and,
// ID by ID, when a session closes and every ID it owns migrates to the
// time-wait list (spec.md §3).
func (m *connIDMap) Erase(cid protocol.ConnectionID) {
	m.mu.Lock()
	delete(m.sessions, string(cid.Bytes()))
	m.mu.Unlock()
}

// TryAddNewConnectionId registers newCID as an additional route to the
// session already reachable via existingCID (spec.md §4.F, §6
// "TryAddNewConnectionId"). It rejects (returns false) if existingCID is
// unknown: a session cannot vouch for a CID before it is itself registered.
func (m *connIDMap) TryAddNewConnectionId(existingCID, newCID protocol.ConnectionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[string(existingCID.Bytes())]
	if !ok {
		return false
	}
	m.sessions[string(newCID.Bytes())] = sess
	return true
}

// OnConnectionIdRetired erases a single ID a session has announced it no
// longer answers to (spec.md §6). Equivalent to Erase, kept as a distinct
// name because the two calls arrive from different collaborators (the
// dispatcher core vs. a session callback) and spec.md names them
// separately.
func (m *connIDMap) OnConnectionIdRetired(cid protocol.ConnectionID) {
	m.Erase(cid)
}

// Len reports how many connection IDs currently route to a session.
// Exercised by tests and by metrics.go's gauge callback.
func (m *connIDMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
