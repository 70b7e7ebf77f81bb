package dispatcher

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecentResetSetRateLimitsPerAddress(t *testing.T) {
	s := newRecentResetSet(10)
	addr1 := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 55000}
	addr2 := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 55001}

	require.True(t, s.ShouldSend(addr1))
	require.False(t, s.ShouldSend(addr1))
	require.True(t, s.ShouldSend(addr2))
}

func TestRecentResetSetClear(t *testing.T) {
	s := newRecentResetSet(10)
	addr := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 55000}
	require.True(t, s.ShouldSend(addr))
	s.Clear()
	require.True(t, s.ShouldSend(addr))
}
