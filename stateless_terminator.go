package dispatcher

import (
	"bytes"
	"fmt"

	"github.com/qdispatch/qdispatch/internal/handshake"
	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/internal/wire"
)

// statelessTerminator implements component E (spec.md §4.E): given
// (serverCID, originalServerCID, version), it builds exactly one
// CONNECTION_CLOSE packet, encrypted under the Initial keys derived from
// originalServerCID, for a connection that never got far enough to have a
// live session. The caller hands the result to the time-wait list under
// ActionSendTerminationPackets.
type statelessTerminator struct{}

func newStatelessTerminator() *statelessTerminator {
	return &statelessTerminator{}
}

// errorCodeForAlert implements spec.md §4.H: a TLS alert maps to a QUIC
// error code via the fixed CRYPTO_ERROR offset, with a detail string
// naming the alert.
func errorCodeForAlert(alert uint8) (ErrorCode, string) {
	code := TlsAlertToErrorCode(alert)
	return code, fmt.Sprintf("TLS handshake failure (Initial) %d: %s", alert, tlsAlertName(alert))
}

// Terminate builds one encrypted Initial packet carrying a CONNECTION_CLOSE
// frame with the given code/detail, keyed by originalServerCID (spec.md
// §4.E: "encrypts it under the initial keys derived from
// original_server_cid"). serverCID is written as the packet's destination
// connection ID and originalServerCID as its source connection ID.
func (t *statelessTerminator) Terminate(serverCID, originalServerCID protocol.ConnectionID, version protocol.VersionNumber, code ErrorCode, detail string) ([]byte, error) {
	sealer, _, err := handshake.NewInitialAEAD(originalServerCID, protocol.PerspectiveServer, version)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: deriving initial keys for termination packet: %w", err)
	}

	frame := &wire.ConnectionCloseFrame{
		IsApplicationError: false,
		ErrorCode:          code,
		ReasonPhrase:       detail,
	}
	payload := &bytes.Buffer{}
	frame.Write(payload)
	// pad the unprotected payload to at least 4 bytes so the packet number
	// field always has a sample available for header protection; the
	// packet is not padded beyond that.
	for payload.Len() < 4 {
		payload.WriteByte(0) // PADDING frame, type 0x00
	}

	return buildInitialPacket(sealer, serverCID, originalServerCID, version, payload.Bytes())
}

// buildInitialPacket assembles one long-header Initial packet: unprotected
// header, AEAD-sealed payload, then header-protection mask applied over the
// first byte and packet-number field, per RFC 9001 section 5.4.
func buildInitialPacket(sealer handshake.LongHeaderSealer, destCID, srcCID protocol.ConnectionID, version protocol.VersionNumber, payload []byte) ([]byte, error) {
	const pn protocol.PacketNumber = 0
	pnBytes := []byte{0} // single-byte packet number, value 0

	header := &bytes.Buffer{}
	header.WriteByte(0xc0) // long header, fixed bit, type INITIAL, 1-byte PN length
	header.Write([]byte{byte(version >> 24), byte(version >> 16), byte(version >> 8), byte(version)})
	header.WriteByte(byte(destCID.Len()))
	header.Write(destCID.Bytes())
	header.WriteByte(byte(srcCID.Len()))
	header.Write(srcCID.Bytes())
	header.WriteByte(0) // token length varint: 0, no retry token on a server-sent Initial

	sealedLen := len(payload) + sealer.Overhead() + len(pnBytes)
	writeVarIntTo(header, uint64(sealedLen))

	headerBytes := header.Bytes()
	pnOffset := len(headerBytes)
	headerBytes = append(headerBytes, pnBytes...)

	sealed := sealer.Seal(nil, payload, pn, headerBytes)
	packet := append(headerBytes, sealed...)

	sampleOffset := pnOffset + 4
	if sampleOffset+16 > len(packet) {
		return nil, fmt.Errorf("dispatcher: termination packet too short to sample for header protection")
	}
	sample := packet[sampleOffset : sampleOffset+16]
	sealer.EncryptHeader(sample, &packet[0], packet[pnOffset:pnOffset+len(pnBytes)])

	return packet, nil
}

// writeVarIntTo mirrors wire's private writeVarInt for the one call site
// outside the wire package that needs it: the Initial packet's length
// field, computed here rather than exported, since nothing else in the
// dispatcher writes wire-format integers directly.
func writeVarIntTo(b *bytes.Buffer, v uint64) {
	switch {
	case v <= 63:
		b.WriteByte(byte(v))
	case v <= 16383:
		b.Write([]byte{byte(v>>8) | 0x40, byte(v)})
	case v <= 1073741823:
		b.Write([]byte{byte(v>>24) | 0x80, byte(v >> 16), byte(v >> 8), byte(v)})
	default:
		b.Write([]byte{
			byte(v>>56) | 0xc0, byte(v >> 48), byte(v >> 40), byte(v >> 32),
			byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
		})
	}
}

// tlsAlertName gives a short mnemonic for the handful of alerts the CHLO
// extractor can actually observe during Initial-flight processing; anything
// else is reported numerically.
func tlsAlertName(alert uint8) string {
	switch alert {
	case 10:
		return "unexpected_message"
	case 40:
		return "handshake_failure"
	case 43:
		return "unsupported_certificate"
	case 46:
		return "decrypt_error"
	case 70:
		return "protocol_version"
	case 80:
		return "internal_error"
	case 109:
		return "missing_extension"
	case 110:
		return "unsupported_extension"
	case 112:
		return "unrecognized_name"
	case 116:
		return "certificate_required"
	case 120:
		return "no_application_protocol"
	default:
		return fmt.Sprintf("alert_%d", alert)
	}
}
