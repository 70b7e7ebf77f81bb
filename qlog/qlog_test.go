package qlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/logging"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func TestTracerEncodesEventsAsNDJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	tr := NewTracer(nopWriteCloser{buf})

	connID := protocol.ConnectionID{1, 2, 3, 4}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}

	tr.BufferedPacket(connID, logging.PacketTypeInitial)
	tr.DroppedPacket(remote, logging.PacketTypeInitial, 1200, logging.PacketDropUnsupportedVersion)
	tr.SentStatelessReset(remote, connID)
	tr.SentVersionNegotiationPacket(remote, connID, connID, []protocol.VersionNumber{protocol.Version1})
	tr.ClosedConnection(connID, logging.CloseReasonBufferExpired)

	require.NoError(t, tr.(interface{ Close() error }).Close())

	scanner := bufio.NewScanner(buf)
	var lines int
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		require.Contains(t, decoded, "name")
		lines++
	}
	require.Equal(t, 5, lines)
}
