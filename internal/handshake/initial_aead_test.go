package handshake

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

func unhex(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimPrefix(s, "0x"), " ", ""))
	if err != nil {
		panic(err)
	}
	return b
}

func TestInitialSecretsV1(t *testing.T) {
	connID := protocol.ConnectionID(unhex("8394c8f03e515708"))
	clientSecret, serverSecret := computeSecrets(connID, protocol.Version1)
	require.Equal(t, unhex("c00cf151ca5be075ed0ebfb5c80323c42d6b7db67881289af4008f1f6c357aea"), clientSecret)
	require.Equal(t, unhex("3c199828fd139efd216c155ad844cc81fb82fa8d7446fa7d78be803acdda951b"), serverSecret)

	clientKey, clientIV := computeInitialKeyAndIV(clientSecret)
	require.Equal(t, unhex("1f369613dd76d5467730efcbe3b1a22d"), clientKey)
	require.Equal(t, unhex("fa044b2f42a3fd3b46fb255c"), clientIV)

	serverKey, serverIV := computeInitialKeyAndIV(serverSecret)
	require.Equal(t, unhex("cf3a5331653c364c88f0f379b6067e37"), serverKey)
	require.Equal(t, unhex("0ac1493ca1905853b0bba03e"), serverIV)
}

func TestInitialAEADRoundTrip(t *testing.T) {
	for _, v := range []protocol.VersionNumber{protocol.Version1, protocol.VersionDraft29} {
		connID := protocol.ConnectionID{0x12, 0x34, 0x56, 0x78, 0x90, 0xab, 0xcd, 0xef}
		clientSealer, clientOpener, err := NewInitialAEAD(connID, protocol.PerspectiveClient, v)
		require.NoError(t, err)
		serverSealer, serverOpener, err := NewInitialAEAD(connID, protocol.PerspectiveServer, v)
		require.NoError(t, err)

		sealed := clientSealer.Seal(nil, []byte("foobar"), 42, []byte("aad"))
		opened, err := serverOpener.Open(nil, sealed, 42, []byte("aad"))
		require.NoError(t, err)
		require.Equal(t, []byte("foobar"), opened)

		sealed = serverSealer.Seal(nil, []byte("raboof"), 99, []byte("daa"))
		opened, err = clientOpener.Open(nil, sealed, 99, []byte("daa"))
		require.NoError(t, err)
		require.Equal(t, []byte("raboof"), opened)
	}
}

func TestInitialAEADWrongConnectionID(t *testing.T) {
	c1 := protocol.ConnectionID{0, 0, 0, 0, 0, 0, 0, 1}
	c2 := protocol.ConnectionID{0, 0, 0, 0, 0, 0, 0, 2}
	clientSealer, _, err := NewInitialAEAD(c1, protocol.PerspectiveClient, protocol.Version1)
	require.NoError(t, err)
	_, serverOpener, err := NewInitialAEAD(c2, protocol.PerspectiveServer, protocol.Version1)
	require.NoError(t, err)

	sealed := clientSealer.Seal(nil, []byte("foobar"), 42, []byte("aad"))
	_, err = serverOpener.Open(nil, sealed, 42, []byte("aad"))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestInitialAEADHeaderProtection(t *testing.T) {
	connID := protocol.ConnectionID{0xde, 0xca, 0xfb, 0xad}
	clientSealer, clientOpener, err := NewInitialAEAD(connID, protocol.PerspectiveClient, protocol.Version1)
	require.NoError(t, err)
	serverSealer, serverOpener, err := NewInitialAEAD(connID, protocol.PerspectiveServer, protocol.Version1)
	require.NoError(t, err)

	header := []byte{0x5e, 0, 1, 2, 3, 4, 0xde, 0xad, 0xbe, 0xef}
	sample := make([]byte, 16)

	clientSealer.EncryptHeader(sample, &header[0], header[6:10])
	require.Equal(t, byte(0x5e&0xf0), header[0]&0xf0)
	require.NotEqual(t, []byte{0xde, 0xad, 0xbe, 0xef}, header[6:10])

	serverOpener.DecryptHeader(sample, &header[0], header[6:10])
	require.Equal(t, byte(0x5e), header[0])
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, header[6:10])

	serverSealer.EncryptHeader(sample, &header[0], header[6:10])
	clientOpener.DecryptHeader(sample, &header[0], header[6:10])
	require.Equal(t, byte(0x5e), header[0])
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, header[6:10])
}
