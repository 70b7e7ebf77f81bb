package dispatcher

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"hash"
	"sync"

	"github.com/qdispatch/qdispatch/internal/protocol"
)

// StatelessResetKey seeds stateless reset token derivation (Config.StatelessResetKey).
// It must be stable across restarts: a token computed from a given
// connection ID has to keep matching after the process that issued it is
// gone, or a restarted server can't recognize its own pre-restart CIDs.
type StatelessResetKey [32]byte

// statelessResetter derives the per-connection-ID token the time-wait list
// embeds in SEND_STATELESS_RESET replies (spec.md §4.D). With no key
// configured it hands out random, unreproducible tokens: an off-path
// attacker that guesses a connection ID still can't forge a reset for it.
type statelessResetter struct {
	enabled bool
	mu      sync.Mutex
	hasher  hash.Hash
}

func newStatelessResetter(key *StatelessResetKey) *statelessResetter {
	r := &statelessResetter{enabled: key != nil}
	if r.enabled {
		r.hasher = hmac.New(sha256.New, key[:])
	}
	return r
}

func (r *statelessResetter) Enabled() bool {
	return r.enabled
}

func (r *statelessResetter) GetStatelessResetToken(connID protocol.ConnectionID) protocol.StatelessResetToken {
	var token protocol.StatelessResetToken
	if !r.enabled {
		rand.Read(token[:])
		return token
	}
	r.mu.Lock()
	r.hasher.Write(connID.Bytes())
	copy(token[:], r.hasher.Sum(nil))
	r.hasher.Reset()
	r.mu.Unlock()
	return token
}
