package dispatcher

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePacketConn struct {
	net.PacketConn
	written []byte
	to      net.Addr
}

func (f *fakePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	f.written = append([]byte(nil), b...)
	f.to = addr
	return len(b), nil
}

func (f *fakePacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
}

func TestSendConnWriteTo(t *testing.T) {
	fake := &fakePacketConn{}
	sc := newSendConn(fake, nil)

	dst := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 40000}
	require.NoError(t, sc.WriteTo([]byte("hello"), dst))
	require.Equal(t, []byte("hello"), fake.written)
	require.Equal(t, dst, fake.to)
}

func TestSendConnLocalAddr(t *testing.T) {
	fake := &fakePacketConn{}
	sc := newSendConn(fake, nil)
	require.Equal(t, "127.0.0.1:4433", sc.LocalAddr().String())
}
