package dispatcher

import (
	"testing"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestPacketBufferHasReceivePacketCapacity(t *testing.T) {
	buf := getPacketBuffer()
	require.Equal(t, int(protocol.MaxReceivePacketSize), cap(buf.Slice))
	buf.Release()
}

func TestPacketBufferPanicsOnWrongSizedRelease(t *testing.T) {
	buf := getPacketBuffer()
	buf.Slice = make([]byte, 10)
	require.Panics(t, func() { buf.Release() })
}

func TestPacketBufferPanicsOnDoubleRelease(t *testing.T) {
	buf := getPacketBuffer()
	buf.Release()
	require.Panics(t, func() { buf.Release() })
}

func TestPacketBufferWaitsForAllSplitPartsToRelease(t *testing.T) {
	buf := getPacketBuffer()
	buf.Split()
	buf.Split()
	// now there are 3 references outstanding
	buf.Release()
	buf.Release()
	buf.Release()
	require.Panics(t, func() { buf.Release() })
}
