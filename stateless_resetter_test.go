package dispatcher

import (
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestStatelessResetterDisabledByDefault(t *testing.T) {
	r := newStatelessResetter(nil)
	require.False(t, r.Enabled())
}

func TestStatelessResetterDeterministicWithKey(t *testing.T) {
	var key StatelessResetKey
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	r := newStatelessResetter(&key)
	require.True(t, r.Enabled())

	cid := protocol.ConnectionID{1, 2, 3, 4}
	t1 := r.GetStatelessResetToken(cid)
	t2 := r.GetStatelessResetToken(cid)
	require.Equal(t, t1, t2)
}

func TestStatelessResetterDiffersByConnectionID(t *testing.T) {
	var key StatelessResetKey
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	r := newStatelessResetter(&key)

	t1 := r.GetStatelessResetToken(protocol.ConnectionID{1})
	t2 := r.GetStatelessResetToken(protocol.ConnectionID{2})
	require.NotEqual(t, t1, t2)
}

func TestStatelessResetterRandomWithoutKey(t *testing.T) {
	r := newStatelessResetter(nil)
	cid := protocol.ConnectionID{1, 2, 3}
	t1 := r.GetStatelessResetToken(cid)
	t2 := r.GetStatelessResetToken(cid)
	require.NotEqual(t, t1, t2)
}
