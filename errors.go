package dispatcher

import "github.com/qdispatch/qdispatch/internal/qerr"

// TransportError is the wire-visible error the stateless terminator
// (spec.md §4.E) builds a CONNECTION_CLOSE frame from.
type TransportError = qerr.TransportError

// ErrorCode is a QUIC transport error code.
type ErrorCode = qerr.ErrorCode

const (
	NoError             = qerr.NoError
	InternalError       = qerr.InternalError
	ConnectionRefused   = qerr.ConnectionRefused
	ProtocolViolation   = qerr.ProtocolViolation
	InvalidToken        = qerr.InvalidToken
	ApplicationError    = qerr.ApplicationError
	InvalidPacketHeader = qerr.InvalidPacketHeader
	HandshakeFailed     = qerr.HandshakeFailed
	PeerGoingAway       = qerr.PeerGoingAway
)

// NewTransportError constructs a TransportError with the given code and
// human-readable reason.
func NewTransportError(code ErrorCode, reason string) *TransportError {
	return qerr.NewTransportError(code, reason)
}

// TlsAlertToErrorCode maps a TLS alert (seen while extracting a CHLO via
// the incremental TLS state machine) to its corresponding transport
// error code, per spec.md §4.H.
func TlsAlertToErrorCode(alert uint8) ErrorCode {
	return qerr.TlsAlertToErrorCode(alert)
}
