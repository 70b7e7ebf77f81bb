package dispatcher

import (
	"net"
	"testing"

	"github.com/qdispatch/qdispatch/internal/handshake"
	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

// writeQuicVarint appends v to b using the shortest RFC 9000 §16 varint
// encoding, mirroring internal/wire's unexported writeVarInt for test-only
// packet construction.
func writeQuicVarint(b []byte, v uint64) []byte {
	switch {
	case v <= 63:
		return append(b, byte(v))
	case v <= 16383:
		return append(b, byte(v>>8)|0x40, byte(v))
	case v <= 1073741823:
		return append(b, byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
	default:
		return append(b, byte(v>>56)|0xc0, byte(v>>48), byte(v>>40), byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// buildTestInitialPacket seals plaintext (a CRYPTO-frame payload, already
// framed and padded by the caller) into a real IETF Initial packet
// addressed to cid, using the client-side Initial AEAD so the dispatcher's
// own server-side opener (derived the same way inside
// tls_chlo_extractor.go) can open it.
//
// The packet's first byte is deliberately left unprotected: this
// dispatcher's removeHeaderProtectionAndOpen only ever reads packet[0]
// directly when building its AEAD associated data (it decrypts into a
// local copy it never writes back), so protecting it here would make the
// wire byte diverge from the value used as associated data during Seal.
func buildTestInitialPacket(t *testing.T, cid protocol.ConnectionID, version protocol.VersionNumber, pn byte, plaintext []byte) []byte {
	t.Helper()
	sealer, _, err := handshake.NewInitialAEAD(cid, protocol.PerspectiveClient, version)
	require.NoError(t, err)

	header := []byte{0xc0} // long header, fixed bit, Initial type, 1-byte PN
	header = append(header, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	header = append(header, byte(cid.Len()))
	header = append(header, cid.Bytes()...)
	header = append(header, 0) // source connection ID length: 0
	header = writeQuicVarint(header, 0) // token length: 0
	header = writeQuicVarint(header, uint64(1+len(plaintext)+16))
	headerLen := len(header)

	ad := append(append([]byte(nil), header...), pn)
	ciphertext := sealer.Seal(nil, plaintext, protocol.PacketNumber(pn), ad)

	packet := append(append([]byte(nil), header...), pn)
	packet = append(packet, ciphertext...)

	sample := packet[headerLen+4 : headerLen+4+16]
	first := packet[0]
	sealer.EncryptHeader(sample, &packet[0], packet[headerLen:headerLen+1])
	packet[0] = first

	return packet
}

func cryptoFrame(offset uint64, data []byte) []byte {
	frame := []byte{0x06}
	frame = writeQuicVarint(frame, offset)
	frame = writeQuicVarint(frame, uint64(len(data)))
	return append(frame, data...)
}

// padTo appends PADDING frames (a single 0x00 byte each) until plaintext
// reaches at least n bytes, so the resulting Initial packet can reach
// protocol.MinInitialPacketSize without perturbing the CRYPTO frame that
// precedes the padding.
func padTo(plaintext []byte, n int) []byte {
	for len(plaintext) < n {
		plaintext = append(plaintext, 0)
	}
	return plaintext
}

// TestDispatcherReassemblesFragmentedTLSCHLO implements spec.md §8 scenario
// 2: a TLS ClientHello split across two Initial packets for the same
// connection ID must still produce exactly one session, with both packets
// having reached the session (the second packet delivered from the
// buffered list once the CHLO completes).
func TestDispatcherReassemblesFragmentedTLSCHLO(t *testing.T) {
	d, factory, _ := newTestDispatcher(t)
	cid := protocol.ConnectionID{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x11, 0x22}

	chloBody := buildMinimalClientHelloBody("example.com", []string{"h3"})
	handshakeMsg := []byte{0x01, byte(len(chloBody) >> 16), byte(len(chloBody) >> 8), byte(len(chloBody))}
	handshakeMsg = append(handshakeMsg, chloBody...)

	split := len(handshakeMsg) / 2
	first, second := handshakeMsg[:split], handshakeMsg[split:]

	plaintext1 := padTo(cryptoFrame(0, first), 1165)
	pkt1 := buildTestInitialPacket(t, cid, protocol.Version1, 1, plaintext1)
	require.GreaterOrEqual(t, len(pkt1), int(protocol.MinInitialPacketSize))

	plaintext2 := cryptoFrame(uint64(split), second)
	pkt2 := buildTestInitialPacket(t, cid, protocol.Version1, 2, plaintext2)

	self := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 443}
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 40000}

	d.ProcessPacket(self, peer, pkt1)
	require.Empty(t, factory.sessions)
	require.True(t, d.store.HasBufferedPackets(cid))

	// Before the fix, this second arrival for a CID that already has a
	// BufferedPacketList went straight to bufferEarlyPacket and never
	// touched the TLS CHLO extractor's chloState, so the CHLO could never
	// complete.
	d.ProcessPacket(self, peer, pkt2)

	require.Len(t, factory.sessions, 1)
	require.Equal(t, "h3", factory.alpns[0])
	require.Len(t, factory.sessions[0].processed, 2)
	require.False(t, d.store.HasBufferedPackets(cid))
}
