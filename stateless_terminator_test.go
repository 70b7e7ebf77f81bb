package dispatcher

import (
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestStatelessTerminatorProducesOneInitialPacket(t *testing.T) {
	term := newStatelessTerminator()
	cid := protocol.ConnectionID{0xca, 0xfe, 0xba, 0xbe}

	packet, err := term.Terminate(cid, cid, protocol.Version1, HandshakeFailed, "server shutdown imminent")
	require.NoError(t, err)
	require.NotEmpty(t, packet)

	info, err := wire.ParsePublicHeader(packet, cid.Len())
	require.NoError(t, err)
	require.Equal(t, protocol.LongHeaderTypeInitial, info.LongPacketType)
	require.True(t, info.DestConnectionID.Equal(cid))
}

func TestErrorCodeForAlertNamesKnownAlert(t *testing.T) {
	code, detail := errorCodeForAlert(40)
	require.Equal(t, TlsAlertToErrorCode(40), code)
	require.Contains(t, detail, "handshake_failure")
}
