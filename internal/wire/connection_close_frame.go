package wire

import (
	"bytes"
	"io"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/internal/qerr"
)

// ConnectionCloseFrame is the one frame the stateless terminator (spec.md
// §4.E) ever builds: a single CONNECTION_CLOSE, transport-flavored (type
// 0x1c), carrying a terminal error code and an optional human-readable
// reason. The dispatcher never sends the application-flavored variant
// (0x1d), since it never speaks for application protocol state.
type ConnectionCloseFrame struct {
	IsApplicationError bool
	ErrorCode          qerr.ErrorCode
	FrameType          uint64 // only meaningful when !IsApplicationError
	ReasonPhrase       string
}

// ParseConnectionCloseFrame parses a CONNECTION_CLOSE frame from r. The
// dispatcher never needs to read one off the wire in normal operation; the
// parser is the inverse of (*ConnectionCloseFrame).Write.
func ParseConnectionCloseFrame(r *bytes.Reader) (*ConnectionCloseFrame, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	f := &ConnectionCloseFrame{IsApplicationError: typeByte == 0x1d}

	ec, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	f.ErrorCode = qerr.ErrorCode(ec)

	if !f.IsApplicationError {
		ft, err := readVarInt(r)
		if err != nil {
			return nil, err
		}
		f.FrameType = ft
	}

	reasonLen, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if int(reasonLen) > r.Len() {
		return nil, io.EOF
	}
	reason := make([]byte, reasonLen)
	if _, err := io.ReadFull(r, reason); err != nil {
		return nil, err
	}
	f.ReasonPhrase = string(reason)
	return f, nil
}

// Length returns the number of bytes Write would produce.
func (f *ConnectionCloseFrame) Length() protocol.ByteCount {
	length := 1 + varIntLen(uint64(f.ErrorCode)) + varIntLen(uint64(len(f.ReasonPhrase))) + len(f.ReasonPhrase)
	if !f.IsApplicationError {
		length += varIntLen(f.FrameType)
	}
	return protocol.ByteCount(length)
}

// Write appends the frame's wire encoding to b.
func (f *ConnectionCloseFrame) Write(b *bytes.Buffer) {
	if f.IsApplicationError {
		b.WriteByte(0x1d)
	} else {
		b.WriteByte(0x1c)
	}
	writeVarInt(b, uint64(f.ErrorCode))
	if !f.IsApplicationError {
		writeVarInt(b, f.FrameType)
	}
	writeVarInt(b, uint64(len(f.ReasonPhrase)))
	b.WriteString(f.ReasonPhrase)
}
