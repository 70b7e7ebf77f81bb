// Command qdispatchd wires a Dispatcher to a real UDP socket. It takes the
// place of a QUIC server's handshake/session layer with a no-op
// SessionFactory, so it exercises the dispatch pipeline end to end (public
// header parsing, CHLO extraction, buffering, time-wait) without pulling in
// TLS or stream multiplexing.
package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qdispatch/qdispatch"
	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/internal/utils"
	"github.com/qdispatch/qdispatch/qlog"
)

// noopSession discards everything a real Session would hand off to the
// handshake/stream layer. It exists so qdispatchd can demonstrate the
// dispatch pipeline without a real QUIC implementation underneath it.
type noopSession struct {
	serverCID protocol.ConnectionID
	logger    utils.Logger
}

func (s *noopSession) ProcessUDPPacket(p *dispatcher.ReceivedPacket) {
	s.logger.Debugf("session %s: received %d bytes from %s", s.serverCID, len(p.Data), p.PeerAddr)
}

func (s *noopSession) SetOriginalDestinationConnectionID(cid protocol.ConnectionID) {
	s.logger.Debugf("session %s: original destination connection ID %s", s.serverCID, cid)
}

func (s *noopSession) Close(err error) {
	s.logger.Debugf("session %s: closed: %v", s.serverCID, err)
}

type noopSessionFactory struct {
	logger utils.Logger
}

func (f *noopSessionFactory) CreateSession(serverCID protocol.ConnectionID, self, peer net.Addr, alpn string, version protocol.VersionNumber, chlo *dispatcher.ParsedChlo) (dispatcher.Session, error) {
	f.logger.Infof("creating session %s for %s (alpn %q, version %s)", serverCID, peer, alpn, version)
	return &noopSession{serverCID: serverCID, logger: f.logger}, nil
}

func main() {
	addr := flag.String("addr", ":4433", "UDP address to listen on")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on, empty to disable")
	logLevel := flag.String("log-level", "info", "debug, info, error, or nothing")
	flag.Parse()

	logger := utils.DefaultLogger
	logger.SetLogLevel(utils.LogLevelFromString(*logLevel))

	conn, err := net.ListenUDP("udp", mustResolve(*addr))
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	d, err := dispatcher.NewDispatcher(&dispatcher.Config{Tracer: qlog.DefaultTracer()}, conn, &noopSessionFactory{logger: logger}, nil, logger)
	if err != nil {
		log.Fatalf("new dispatcher: %v", err)
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Infof("serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	go runBufferedChloLoop(d, conn.LocalAddr())

	logger.Infof("listening on %s", conn.LocalAddr())
	for {
		buf := dispatcher.GetPacketBuffer()
		n, peer, err := conn.ReadFromUDP(buf.Slice)
		if err != nil {
			buf.Release()
			logger.Errorf("read: %v", err)
			continue
		}
		d.ProcessPacket(conn.LocalAddr(), peer, buf.Slice[:n])
		buf.Release()
	}
}

// runBufferedChloLoop drives ProcessBufferedChlos and RefreshGauges once per
// tick, the role the teacher's event loop plays for a real quic.Transport:
// nothing here reads the socket, it only promotes CHLOs that finished
// buffering since the last tick and samples queue depth into the metrics.
func runBufferedChloLoop(d *dispatcher.Dispatcher, self net.Addr) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		d.ProcessBufferedChlos(self)
		d.RefreshGauges()
	}
}

func mustResolve(addr string) *net.UDPAddr {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatalf("resolve %s: %v", addr, err)
	}
	return udpAddr
}
