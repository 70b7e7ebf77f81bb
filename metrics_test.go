package dispatcher

import (
	"testing"
	"time"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordPacketDroppedIncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(metricPacketsDropped.WithLabelValues("dos_prevention"))
	RecordPacketDropped("dos_prevention")
	after := testutil.ToFloat64(metricPacketsDropped.WithLabelValues("dos_prevention"))
	require.Equal(t, before+1, after)
}

func TestRefreshGaugesSamplesQueueSizes(t *testing.T) {
	d, factory, _ := newTestDispatcher(t)
	cid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	_ = factory

	d.store.Enqueue(cid, true, BufferedPacket{Data: []byte("x")}, protocol.Version1, nil, time.Now())
	d.RefreshGauges()

	require.Equal(t, float64(1), testutil.ToFloat64(metricBufferedConnections))
	require.Equal(t, float64(1), testutil.ToFloat64(metricBufferedPackets))
}
