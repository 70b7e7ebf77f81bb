package dispatcher

import (
	"testing"
	"time"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/logging"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigAcceptsNil(t *testing.T) {
	require.NoError(t, validateConfig(nil))
}

func TestValidateConfigRejectsBadConnectionIDLength(t *testing.T) {
	require.Error(t, validateConfig(&Config{ConnectionIDLength: -1}))
	require.Error(t, validateConfig(&Config{ConnectionIDLength: 21}))
	require.NoError(t, validateConfig(&Config{ConnectionIDLength: 20}))
}

func TestValidateConfigRejectsNegativeBufferLimits(t *testing.T) {
	require.Error(t, validateConfig(&Config{MaxPacketsPerConnection: -1}))
	require.Error(t, validateConfig(&Config{MaxBufferedConnections: -1}))
}

func TestPopulateConfigFillsDefaults(t *testing.T) {
	c := populateConfig(nil)
	require.Equal(t, protocol.SupportedVersions, c.Versions)
	require.Equal(t, DefaultConnectionIDLength, c.ConnectionIDLength)
	require.Equal(t, DefaultMaxPacketsPerConnection, c.MaxPacketsPerConnection)
	require.Equal(t, DefaultMaxBufferedConnections, c.MaxBufferedConnections)
	require.Equal(t, DefaultInitialIdleTimeout, c.InitialIdleTimeout)
	require.Equal(t, DefaultMaxConnectionsToCreate, c.MaxConnectionsToCreate)
	require.Equal(t, DefaultNewSessionsAllowedPerEventLoop, c.NewSessionsAllowedPerEventLoop)
	require.Equal(t, DefaultMaxRecentStatelessResetAddresses, c.MaxRecentStatelessResetAddresses)
	require.Equal(t, DefaultRecentStatelessResetAddressesLifetime, c.RecentStatelessResetAddressesLifetime)
	require.IsType(t, logging.NullTracer{}, c.Tracer)
}

func TestPopulateConfigPreservesNonZeroFields(t *testing.T) {
	versions := []protocol.VersionNumber{protocol.VersionDraft29}
	tracer := logging.NullTracer{}
	c := populateConfig(&Config{
		Versions:                versions,
		ConnectionIDLength:      4,
		MaxPacketsPerConnection: 7,
		MaxBufferedConnections:  9,
		InitialIdleTimeout:      time.Minute,
		AllowCHLOBuffering:      true,
		Tracer:                  tracer,
	})
	require.Equal(t, versions, c.Versions)
	require.Equal(t, 4, c.ConnectionIDLength)
	require.Equal(t, 7, c.MaxPacketsPerConnection)
	require.Equal(t, 9, c.MaxBufferedConnections)
	require.Equal(t, time.Minute, c.InitialIdleTimeout)
	require.True(t, c.AllowCHLOBuffering)
	require.Equal(t, tracer, c.Tracer)
}

func TestConfigCloneIsIndependentCopy(t *testing.T) {
	c1 := &Config{ConnectionIDLength: 8, MaxPacketsPerConnection: 32}
	c2 := c1.Clone()
	c2.ConnectionIDLength = 4

	require.Equal(t, 8, c1.ConnectionIDLength)
	require.Equal(t, 4, c2.ConnectionIDLength)
	require.Equal(t, c1.MaxPacketsPerConnection, c2.MaxPacketsPerConnection)
}
