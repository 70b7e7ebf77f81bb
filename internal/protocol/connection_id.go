package protocol

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// MaxConnectionIDLen is the longest connection ID this dispatcher will
// ever parse or generate (RFC 9000, section 17.2).
const MaxConnectionIDLen = 20

// ErrInvalidConnectionIDLen is returned by ReadConnectionID when the
// requested length exceeds MaxConnectionIDLen: RFC 9000, section 17.2
// bounds the CID length field itself to a single byte, but callers must
// still reject anything above the wire maximum rather than allocate and
// parse it.
var ErrInvalidConnectionIDLen = errors.New("invalid connection ID length")

// MinConnectionIDLenInitial is the shortest destination connection ID a
// server is permitted to accept on a client's first Initial packet
// (spec.md §6, "kQuicMinimumInitialConnectionIdLength").
const MinConnectionIDLenInitial = 8

// DefaultConnectionIDLength is the length the dispatcher uses when it
// replaces a connection ID and the version doesn't otherwise constrain it.
const DefaultConnectionIDLength = 8

// A ConnectionID is an opaque routing token, compared by value and used as
// a map key (via its string conversion) throughout the dispatcher.
type ConnectionID []byte

// GenerateConnectionID returns a cryptographically random connection ID of
// the given length.
func GenerateConnectionID(length int) (ConnectionID, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return ConnectionID(b), nil
}

// ReadConnectionID reads a connection ID of the given length from r. It
// returns io.EOF if there aren't enough bytes, matching the behavior
// callers rely on when a datagram is truncated mid-header, and
// ErrInvalidConnectionIDLen if length exceeds MaxConnectionIDLen.
func ReadConnectionID(r io.Reader, length int) (ConnectionID, error) {
	if length == 0 {
		return ConnectionID{}, nil
	}
	if length > MaxConnectionIDLen {
		return nil, ErrInvalidConnectionIDLen
	}
	c := make(ConnectionID, length)
	if _, err := io.ReadFull(r, c); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return c, nil
}

// Equal reports whether two connection IDs have the same bytes.
func (c ConnectionID) Equal(other ConnectionID) bool { return bytes.Equal(c, other) }

// Len returns the connection ID's length in bytes.
func (c ConnectionID) Len() int { return len(c) }

// Bytes returns the connection ID's byte representation.
func (c ConnectionID) Bytes() []byte { return []byte(c) }

func (c ConnectionID) String() string {
	if c.Len() == 0 {
		return "(empty)"
	}
	return fmt.Sprintf("%x", c.Bytes())
}

// StatelessResetToken is the 16-byte token RFC 9000 section 10.3 carries in
// a stateless reset packet, identifying it to the peer as deliberate.
type StatelessResetToken [16]byte
