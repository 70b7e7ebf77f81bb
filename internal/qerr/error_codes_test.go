package qerr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodeString(t *testing.T) {
	require.Equal(t, "QUIC_HANDSHAKE_FAILED", HandshakeFailed.String())
	require.Equal(t, "QUIC_PEER_GOING_AWAY", PeerGoingAway.String())
	require.Contains(t, ErrorCode(0xdead).String(), "unknown error code")
}

func TestTlsAlertToErrorCode(t *testing.T) {
	// alert 40 is handshake_failure (RFC 8446)
	code := TlsAlertToErrorCode(40)
	require.True(t, code.isCryptoError())
	require.Contains(t, code.String(), "CRYPTO_ERROR")
}

func TestTransportErrorIs(t *testing.T) {
	err := NewTransportError(ProtocolViolation, "bad frame")
	require.ErrorIs(t, err, &TransportError{})
	require.Equal(t, "PROTOCOL_VIOLATION: bad frame", err.Error())
}
