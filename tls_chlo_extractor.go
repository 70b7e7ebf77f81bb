package dispatcher

import (
	"bytes"

	"github.com/qdispatch/qdispatch/internal/handshake"
	"github.com/qdispatch/qdispatch/internal/protocol"
)

// tlsChloState is the incremental extractor's state machine position,
// spec.md §4.B: kInitial -> kParsedPartialChlo -> {kParsedFullChlo, kAlert}.
type tlsChloState uint8

const (
	tlsChloInitial tlsChloState = iota
	tlsChloParsedPartial
	tlsChloParsedFull
	tlsChloAlert
)

// tlsChloExtractorState accumulates CRYPTO frame bytes for one connection
// ID across however many Initial packets it takes for the client's CHLO to
// arrive in full, per spec.md §4.B: "Ingestion is deterministic and
// cumulative; replaying the same packets in order reaches the same
// terminal state." It lives inside a BufferedPacketList.
type tlsChloExtractorState struct {
	state   tlsChloState
	crypto  bytes.Buffer // reassembled CRYPTO-frame bytes, in offset order
	opener  handshake.LongHeaderOpener
	version protocol.VersionNumber

	alert uint8
	chlo  *ParsedChlo
}

func newTLSChloExtractorState(destConnID protocol.ConnectionID, version protocol.VersionNumber) (*tlsChloExtractorState, error) {
	_, opener, err := handshake.NewInitialAEAD(destConnID, protocol.PerspectiveServer, version)
	if err != nil {
		return nil, err
	}
	return &tlsChloExtractorState{opener: opener, version: version}, nil
}

// Ingest implements spec.md §4.B's per-packet ingestion step. Once the
// state machine is terminal (kParsedFullChlo or kAlert), further calls are
// a no-op, matching "once terminal, further ingestion is a no-op."
//
// headerLen lets the caller pass in an already-parsed Initial packet
// without this function re-deriving framing details: it is the offset of
// the packet-number field, from which the header-protection sample and the
// AEAD associated data are located.
func (s *tlsChloExtractorState) Ingest(packet []byte, headerLen int) {
	if s.state == tlsChloParsedFull || s.state == tlsChloAlert {
		return
	}
	plaintext, pn, ok := s.removeHeaderProtectionAndOpen(packet, headerLen)
	if !ok {
		return
	}
	s.ingestCryptoFramesFromPayload(plaintext, pn)
}

// removeHeaderProtectionAndOpen strips header protection from the packet
// number field and AEAD-opens the payload, returning the decrypted CRYPTO
// frame bytes. Failures (a packet that merely looked like it belonged to
// this connection) are silently ignored per spec.md §4.B's recoverable
// framing contract; they don't transition the state machine.
func (s *tlsChloExtractorState) removeHeaderProtectionAndOpen(packet []byte, headerLen int) ([]byte, protocol.PacketNumber, bool) {
	if headerLen+4+16 > len(packet) {
		return nil, 0, false
	}
	sample := packet[headerLen+4 : headerLen+4+16]
	pnBytes := packet[headerLen : headerLen+1] // assume 1-byte packet number length
	firstByte := packet[0]
	s.opener.DecryptHeader(sample, &firstByte, pnBytes)
	pn := protocol.PacketNumber(pnBytes[0])

	associatedData := make([]byte, headerLen+1)
	copy(associatedData, packet[:headerLen])
	associatedData[headerLen] = pnBytes[0]

	ciphertext := packet[headerLen+1:]
	plaintext, err := s.opener.Open(nil, ciphertext, pn, associatedData)
	if err != nil {
		return nil, 0, false
	}
	return plaintext, pn, true
}

// ingestCryptoFramesFromPayload walks the decrypted frame stream for
// CRYPTO frames (type 0x06) and PADDING (0x00), accumulating their data
// into s.crypto, then attempts to parse a full ClientHello out of what has
// accumulated so far.
func (s *tlsChloExtractorState) ingestCryptoFramesFromPayload(payload []byte, _ protocol.PacketNumber) {
	r := bytes.NewReader(payload)
	for r.Len() > 0 {
		frameType, err := r.ReadByte()
		if err != nil {
			return
		}
		switch frameType {
		case 0x00: // PADDING
			continue
		case 0x06: // CRYPTO
			offset, err := readVarIntLocal(r)
			if err != nil {
				return
			}
			length, err := readVarIntLocal(r)
			if err != nil {
				return
			}
			if length > uint64(r.Len()) {
				return
			}
			data := make([]byte, length)
			if _, err := r.Read(data); err != nil {
				return
			}
			s.writeCryptoAt(offset, data)
		default:
			return // anything else this early is unexpected; stop, don't alert
		}
	}
	s.tryParseClientHello()
}

// readVarIntLocal reads a QUIC variable-length integer (RFC 9000 §16).
// Duplicated from wire's unexported readVarInt rather than exported from
// there: decrypted-frame parsing is dispatcher-package logic, not a public
// header concern, and the two are unlikely to diverge but don't need to
// share an implementation to stay correct.
func readVarIntLocal(r *bytes.Reader) (uint64, error) {
	firstByte, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	length := 1 << (firstByte >> 6)
	b := make([]byte, length)
	b[0] = firstByte & 0x3f
	for i := 1; i < length; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		b[i] = c
	}
	var v uint64
	for _, c := range b {
		v = v<<8 + uint64(c)
	}
	return v, nil
}

func (s *tlsChloExtractorState) writeCryptoAt(offset uint64, data []byte) {
	need := int(offset) + len(data)
	if s.crypto.Len() < need {
		s.crypto.Write(make([]byte, need-s.crypto.Len()))
	}
	buf := s.crypto.Bytes()
	copy(buf[offset:], data)
}

// tryParseClientHello attempts to parse whatever CRYPTO-stream bytes have
// accumulated as a complete TLS ClientHello handshake message. A short
// buffer or one that doesn't yet contain the full declared length is left
// in kParsedPartialChlo; a structurally invalid one becomes kAlert with
// alert 10 (unexpected_message), per spec.md §4.B's two terminal states.
func (s *tlsChloExtractorState) tryParseClientHello() {
	buf := s.crypto.Bytes()
	if len(buf) < 4 {
		s.state = tlsChloParsedPartial
		return
	}
	if buf[0] != 0x01 { // handshake type client_hello
		s.state = tlsChloAlert
		s.alert = 10 // unexpected_message
		return
	}
	declaredLen := int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if len(buf) < 4+declaredLen {
		s.state = tlsChloParsedPartial
		return
	}

	chlo, ok := parseClientHelloExtensions(buf[4 : 4+declaredLen])
	if !ok {
		s.state = tlsChloAlert
		s.alert = 10
		return
	}
	s.state = tlsChloParsedFull
	s.chlo = chlo
}

// clientHelloExtension numbers this parser recognizes (RFC 8446 §4.2).
const (
	extServerName          = 0
	extALPN                = 16
	extEarlyData           = 42
	extPreSharedKey        = 41
	extPSKKeyExchangeModes = 45
)

// parseClientHelloExtensions pulls the handful of fields spec.md §4.B
// requires (sni, alpns, resumption_attempted, early_data_attempted) out of
// a ClientHello body: protocol version (2) + random (32) + legacy session
// ID + cipher suites + legacy compression methods + extensions, per
// RFC 8446 §4.1.2. crypto/tls parses ClientHellos internally but doesn't
// export a standalone decoder for a byte slice that isn't flowing through
// a live net.Conn handshake, so the extension walk below is hand-rolled
// against the wire layout RFC 8446 fixes.
func parseClientHelloExtensions(body []byte) (*ParsedChlo, bool) {
	r := bytes.NewReader(body)
	if r.Len() < 2 {
		return nil, false
	}
	r.Seek(2, 0) // legacy_version
	var random [32]byte
	if _, err := r.Read(random[:]); err != nil {
		return nil, false
	}
	if !skipLengthPrefixed8(r) { // legacy_session_id
		return nil, false
	}
	if !skipLengthPrefixed16(r) { // cipher_suites
		return nil, false
	}
	if !skipLengthPrefixed8(r) { // legacy_compression_methods
		return nil, false
	}

	extTotalLen, ok := readUint16Local(r)
	if !ok {
		return nil, false
	}
	if int(extTotalLen) > r.Len() {
		return nil, false
	}
	extData := make([]byte, extTotalLen)
	if _, err := r.Read(extData); err != nil {
		return nil, false
	}

	chlo := &ParsedChlo{}
	er := bytes.NewReader(extData)
	for er.Len() > 0 {
		extType, ok := readUint16Local(er)
		if !ok {
			return nil, false
		}
		extLen, ok := readUint16Local(er)
		if !ok {
			return nil, false
		}
		if extLen > uint16(er.Len()) {
			return nil, false
		}
		payload := make([]byte, extLen)
		if _, err := er.Read(payload); err != nil {
			return nil, false
		}

		switch extType {
		case extServerName:
			chlo.SNI = parseServerNameExtension(payload)
		case extALPN:
			chlo.ALPNs = parseALPNExtension(payload)
		case extPreSharedKey:
			chlo.ResumptionAttempted = true
		case extEarlyData:
			chlo.EarlyDataAttempted = true
		}
	}
	return chlo, true
}

func parseServerNameExtension(payload []byte) string {
	r := bytes.NewReader(payload)
	if _, ok := readUint16Local(r); !ok { // server_name_list length
		return ""
	}
	for r.Len() > 0 {
		nameType, err := r.ReadByte()
		if err != nil {
			return ""
		}
		length, ok := readUint16Local(r)
		if !ok || int(length) > r.Len() {
			return ""
		}
		name := make([]byte, length)
		r.Read(name)
		if nameType == 0 { // host_name
			return string(name)
		}
	}
	return ""
}

func parseALPNExtension(payload []byte) []string {
	r := bytes.NewReader(payload)
	if _, ok := readUint16Local(r); !ok { // protocol_name_list length
		return nil
	}
	var protos []string
	for r.Len() > 0 {
		length, err := r.ReadByte()
		if err != nil || int(length) > r.Len() {
			return protos
		}
		name := make([]byte, length)
		r.Read(name)
		protos = append(protos, string(name))
	}
	return protos
}

func skipLengthPrefixed8(r *bytes.Reader) bool {
	length, err := r.ReadByte()
	if err != nil || int(length) > r.Len() {
		return false
	}
	_, err = r.Seek(int64(length), 1)
	return err == nil
}

func skipLengthPrefixed16(r *bytes.Reader) bool {
	length, ok := readUint16Local(r)
	if !ok || int(length) > r.Len() {
		return false
	}
	_, err := r.Seek(int64(length), 1)
	return err == nil
}

func readUint16Local(r *bytes.Reader) (uint16, bool) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, false
	}
	return uint16(b[0])<<8 | uint16(b[1]), true
}
