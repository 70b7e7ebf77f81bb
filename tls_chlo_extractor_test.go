package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalClientHelloBody builds the handshake-body bytes (i.e. the
// part after the 4-byte handshake header) of a syntactically valid
// ClientHello carrying an SNI extension and an ALPN extension, for testing
// parseClientHelloExtensions in isolation from packet framing.
func buildMinimalClientHelloBody(sni string, alpns []string) []byte {
	body := []byte{0x03, 0x03} // legacy_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // legacy_session_id: empty

	cipherSuites := []byte{0x00, 0x02, 0x13, 0x01} // length=2, TLS_AES_128_GCM_SHA256
	body = append(body, cipherSuites...)
	body = append(body, 0x01, 0x00) // legacy_compression_methods: [0x00]

	var extensions []byte

	// server_name extension (type 0)
	hostNameEntry := append([]byte{0x00}, encodeUint16(len(sni))...)
	hostNameEntry = append(hostNameEntry, []byte(sni)...)
	serverNameList := append(encodeUint16(len(hostNameEntry)), hostNameEntry...)
	sniExt := append([]byte{0x00, 0x00}, encodeUint16(len(serverNameList))...)
	sniExt = append(sniExt, serverNameList...)
	extensions = append(extensions, sniExt...)

	var alpnList []byte
	for _, p := range alpns {
		alpnList = append(alpnList, byte(len(p)))
		alpnList = append(alpnList, []byte(p)...)
	}
	alpnProtoList := append(encodeUint16(len(alpnList)), alpnList...)
	alpnExt := append([]byte{0x00, 0x10}, encodeUint16(len(alpnProtoList))...)
	alpnExt = append(alpnExt, alpnProtoList...)
	extensions = append(extensions, alpnExt...)

	body = append(body, encodeUint16(len(extensions))...)
	body = append(body, extensions...)
	return body
}

func encodeUint16(v int) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func TestParseClientHelloExtensionsSNIAndALPN(t *testing.T) {
	body := buildMinimalClientHelloBody("example.com", []string{"h3", "h3-29"})
	chlo, ok := parseClientHelloExtensions(body)
	require.True(t, ok)
	require.Equal(t, "example.com", chlo.SNI)
	require.Equal(t, []string{"h3", "h3-29"}, chlo.ALPNs)
}

func TestParseClientHelloExtensionsTruncatedFails(t *testing.T) {
	body := buildMinimalClientHelloBody("example.com", []string{"h3"})
	_, ok := parseClientHelloExtensions(body[:len(body)-3])
	require.False(t, ok)
}
