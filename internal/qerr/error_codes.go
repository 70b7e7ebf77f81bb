// Package qerr defines the error codes the dispatcher can put on the wire,
// either inside a CONNECTION_CLOSE frame it synthesizes itself or in the
// reason it hands to a session it is about to shut down.
package qerr

import "fmt"

// ErrorCode is a QUIC transport error code, as carried in a CONNECTION_CLOSE
// frame. Codes 0x100-0x1ff are reserved for TLS alerts, offset by 0x100
// (RFC 9000, section 20.1); TlsAlertToErrorCode constructs those.
type ErrorCode uint64

const cryptoErrorCodeBase = ErrorCode(0x100)

// The error codes the dispatcher itself can put on the wire. This is not the
// full RFC 9000 registry: it is the subset a pre-handshake demultiplexer
// ever has occasion to synthesize.
const (
	NoError             ErrorCode = 0x0
	InternalError       ErrorCode = 0x1
	ConnectionRefused   ErrorCode = 0x2
	ProtocolViolation   ErrorCode = 0xa
	InvalidToken        ErrorCode = 0xb
	ApplicationError    ErrorCode = 0xc
	InvalidPacketHeader ErrorCode = 0x3f // dispatcher-local: malformed public header, never sent on the wire
	HandshakeFailed     ErrorCode = 0x80 // dispatcher-local: handshake rejected before a session existed
	PeerGoingAway       ErrorCode = 0x81 // dispatcher-local: server shutdown
)

func (e ErrorCode) isCryptoError() bool {
	return e >= cryptoErrorCodeBase && e < cryptoErrorCodeBase+0x100
}

func (e ErrorCode) Error() string { return e.String() }

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case ApplicationError:
		return "APPLICATION_ERROR"
	case InvalidPacketHeader:
		return "QUIC_INVALID_PACKET_HEADER"
	case HandshakeFailed:
		return "QUIC_HANDSHAKE_FAILED"
	case PeerGoingAway:
		return "QUIC_PEER_GOING_AWAY"
	default:
		if e.isCryptoError() {
			return fmt.Sprintf("CRYPTO_ERROR (local alert %d)", uint16(e-cryptoErrorCodeBase))
		}
		return fmt.Sprintf("unknown error code: %#x", uint64(e))
	}
}

// TlsAlertToErrorCode implements spec.md §4.H: a TLS alert is mapped to a
// QUIC error code by offsetting it into the CRYPTO_ERROR range.
func TlsAlertToErrorCode(alert uint8) ErrorCode {
	return cryptoErrorCodeBase + ErrorCode(alert)
}
