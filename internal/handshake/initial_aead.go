package handshake

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"golang.org/x/crypto/hkdf"
)

// Initial secrets are derived from the destination connection ID of a
// client's first Initial packet, salted with a per-version constant
// (RFC 9001 section 5.2). Knowing only the connection ID and the
// version, anyone on path can compute these keys; they protect against
// off-path injection, not against a nosy middlebox, which is exactly why
// the dispatcher is allowed to use them to look inside an Initial packet
// during CHLO extraction.
var (
	quicSaltV1     = []byte{0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3, 0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad, 0xcc, 0xbb, 0x7f, 0x0a}
	quicSaltDraft29 = []byte{0xaf, 0xbf, 0xec, 0x28, 0x99, 0x93, 0xd2, 0x4c, 0x9e, 0x97, 0x86, 0xf1, 0x9c, 0x61, 0x11, 0xe0, 0x43, 0x90, 0xa8, 0x99}
)

func saltForVersion(v protocol.VersionNumber) []byte {
	if v == protocol.VersionDraft29 {
		return quicSaltDraft29
	}
	return quicSaltV1
}

// NewInitialAEAD derives the Initial sealer and opener for connID, from
// the point of view of pers. Both sides of a connection can compute both
// directions' keys; which one you get back just depends on whether you
// ask for your own write key or the peer's.
func NewInitialAEAD(connID protocol.ConnectionID, pers protocol.Perspective, v protocol.VersionNumber) (LongHeaderSealer, LongHeaderOpener, error) {
	clientSecret, serverSecret := computeSecrets(connID, v)
	var mySecret, otherSecret []byte
	if pers == protocol.PerspectiveClient {
		mySecret, otherSecret = clientSecret, serverSecret
	} else {
		mySecret, otherSecret = serverSecret, clientSecret
	}
	myKey, myIV := computeInitialKeyAndIV(mySecret)
	myHPKey := hkdfExpandLabel(mySecret, "quic hp", 16)
	otherKey, otherIV := computeInitialKeyAndIV(otherSecret)
	otherHPKey := hkdfExpandLabel(otherSecret, "quic hp", 16)

	encrypter, err := newAESGCM(myKey, myIV)
	if err != nil {
		return nil, nil, err
	}
	hpEncrypter, err := aes.NewCipher(myHPKey)
	if err != nil {
		return nil, nil, err
	}
	decrypter, err := newAESGCM(otherKey, otherIV)
	if err != nil {
		return nil, nil, err
	}
	hpDecrypter, err := aes.NewCipher(otherHPKey)
	if err != nil {
		return nil, nil, err
	}
	return newLongHeaderSealer(encrypter, hpEncrypter), newLongHeaderOpener(decrypter, hpDecrypter), nil
}

func computeSecrets(connID protocol.ConnectionID, v protocol.VersionNumber) (clientSecret, serverSecret []byte) {
	initialSecret := hkdf.Extract(sha256.New, connID.Bytes(), saltForVersion(v))
	clientSecret = hkdfExpandLabel(initialSecret, "client in", sha256.Size)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", sha256.Size)
	return
}

func computeInitialKeyAndIV(secret []byte) (key, iv []byte) {
	key = hkdfExpandLabel(secret, "quic key", 16)
	iv = hkdfExpandLabel(secret, "quic iv", 12)
	return
}

// aeadNonceIV is a fixed 12-byte IV wrapped around a stdlib AEAD so the
// caller-supplied nonce (just the packet number) is XORed into it, as
// TLS 1.3 record protection requires (RFC 8446 section 5.3).
type aeadNonceIV struct {
	cipher.AEAD
	iv []byte
}

func newAESGCM(key, iv []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aeadNonceIV{AEAD: aead, iv: iv}, nil
}

func (a *aeadNonceIV) xorNonce(nonce []byte) []byte {
	out := make([]byte, len(a.iv))
	copy(out, a.iv)
	offset := len(out) - len(nonce)
	for i, b := range nonce {
		out[offset+i] ^= b
	}
	return out
}

func (a *aeadNonceIV) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	return a.AEAD.Seal(dst, a.xorNonce(nonce), plaintext, additionalData)
}

func (a *aeadNonceIV) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	return a.AEAD.Open(dst, a.xorNonce(nonce), ciphertext, additionalData)
}

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label construction
// (RFC 8446 section 7.1), used throughout RFC 9001 key derivation.
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	fullLabel := "tls13 " + label
	info := make([]byte, 0, 2+1+len(fullLabel)+1)
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0) // empty Context

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("handshake: hkdf expand: %s", err))
	}
	return out
}
