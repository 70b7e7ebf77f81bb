package handshake

import (
	"errors"

	"github.com/qdispatch/qdispatch/internal/protocol"
)

// ErrDecryptionFailed is returned when an AEAD open fails. The CHLO
// extractor treats it the same as a truncated packet: give up on this
// datagram, don't hold state for it.
var ErrDecryptionFailed = errors.New("handshake: decryption failed")

// LongHeaderSealer is the write side of Initial packet protection. The
// only Initial packet the dispatcher sends is the stateless terminator's
// one-shot CONNECTION_CLOSE, which is sealed through this interface
// (Retry and version-negotiation are unprotected).
type LongHeaderSealer interface {
	Seal(dst, src []byte, pn protocol.PacketNumber, ad []byte) []byte
	EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	Overhead() int
}

// LongHeaderOpener is the read side of Initial packet protection: remove
// header protection, then authenticate and decrypt the payload. This is
// what lets the CHLO extractor (spec.md §4.B) see into an Initial packet's
// CRYPTO frame without running any part of the TLS state machine.
type LongHeaderOpener interface {
	DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	Open(dst, src []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error)
}
