package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadConnectionIDRejectsOverMaxLen(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, MaxConnectionIDLen+1)
	cid, err := ReadConnectionID(bytes.NewReader(data), MaxConnectionIDLen+1)
	require.ErrorIs(t, err, ErrInvalidConnectionIDLen)
	require.Nil(t, cid)
}

func TestReadConnectionIDAcceptsMaxLen(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, MaxConnectionIDLen)
	cid, err := ReadConnectionID(bytes.NewReader(data), MaxConnectionIDLen)
	require.NoError(t, err)
	require.Equal(t, MaxConnectionIDLen, cid.Len())
}
