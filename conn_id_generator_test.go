package dispatcher

import (
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestConnectionIDGeneratorLeavesMatchingLengthAlone(t *testing.T) {
	g := NewConnectionIDGenerator([]byte("a fixed test key padded to 32 b"), 8)
	cid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	_, ok := g.MaybeReplaceConnectionId(cid, protocol.Version1)
	require.False(t, ok)
}

func TestConnectionIDGeneratorIsPure(t *testing.T) {
	g := NewConnectionIDGenerator([]byte("a fixed test key padded to 32 b"), 8)
	cid := protocol.ConnectionID{1, 2, 3}

	r1, ok1 := g.MaybeReplaceConnectionId(cid, protocol.Version1)
	r2, ok2 := g.MaybeReplaceConnectionId(cid, protocol.Version1)
	require.True(t, ok1)
	require.True(t, ok2)
	require.True(t, r1.Equal(r2))
	require.Equal(t, 8, r1.Len())
}

func TestConnectionIDGeneratorVariesWithVersion(t *testing.T) {
	g := NewConnectionIDGenerator([]byte("a fixed test key padded to 32 b"), 8)
	cid := protocol.ConnectionID{9, 9, 9}

	r1, _ := g.MaybeReplaceConnectionId(cid, protocol.Version1)
	r2, _ := g.MaybeReplaceConnectionId(cid, protocol.VersionDraft29)
	require.False(t, r1.Equal(r2))
}
