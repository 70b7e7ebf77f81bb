package dispatcher

import (
	"net"

	"github.com/qdispatch/qdispatch/internal/utils"
)

// sendConn is the dispatcher's write-side abstraction over the server
// socket: every stateless reply (version negotiation, stateless reset,
// synthesized CONNECTION_CLOSE) goes out through one of these rather than
// touching net.PacketConn directly, so tests can substitute a recording
// fake. Unlike the teacher's sconn, this carries no GSO batching: the
// dispatcher only ever emits one small packet per call, never a coalesced
// send queue, so that whole capability is out of scope.
type sendConn interface {
	WriteTo(b []byte, addr net.Addr) error
	LocalAddr() net.Addr
}

type udpSendConn struct {
	conn   net.PacketConn
	logger utils.Logger
}

var _ sendConn = &udpSendConn{}

func newSendConn(conn net.PacketConn, logger utils.Logger) sendConn {
	if logger == nil {
		logger = utils.NopLogger{}
	}
	return &udpSendConn{conn: conn, logger: logger}
}

func (c *udpSendConn) WriteTo(b []byte, addr net.Addr) error {
	_, err := c.conn.WriteTo(b, addr)
	if err != nil {
		c.logger.Debugf("failed to send %d bytes to %s: %s", len(b), addr, err)
	}
	return err
}

func (c *udpSendConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
