package dispatcher

import (
	"errors"
	"time"

	"github.com/qdispatch/qdispatch/internal/protocol"
	"github.com/qdispatch/qdispatch/logging"
)

// Default values for fields left zero in a Config passed to NewDispatcher,
// filled in by populateConfig. Numeric defaults are grounded in spec.md §6
// ("Configurable constants") and §4.C/§4.G/§5.
const (
	// DefaultConnectionIDLength is expected_server_connection_id_length_
	// when the caller doesn't specify one.
	DefaultConnectionIDLength = 8

	// DefaultMaxPacketsPerConnection is kMaxPacketsPerConnection (spec.md
	// §4.C): the per-connection cap on buffered datagrams.
	DefaultMaxPacketsPerConnection = 32

	// DefaultMaxBufferedConnections is kMaxConnections (spec.md §4.C): the
	// global cap on distinct connection IDs with a BufferedPacketList.
	DefaultMaxBufferedConnections = 2048

	// DefaultInitialIdleTimeout is kInitialIdleTimeout (spec.md §4.C): a
	// BufferedPacketList older than this is expired and its connection ID
	// statelessly terminated.
	DefaultInitialIdleTimeout = 5 * time.Second

	// DefaultMaxConnectionsToCreate bounds how many sessions
	// ProcessBufferedChlos may create in a single call (spec.md §5).
	DefaultMaxConnectionsToCreate = 128

	// DefaultNewSessionsAllowedPerEventLoop is
	// new_sessions_allowed_per_event_loop_ (spec.md §4.G step 5, §5): the
	// per-turn budget ProcessChlo decrements on every session it creates.
	DefaultNewSessionsAllowedPerEventLoop = 16

	// DefaultMaxRecentStatelessResetAddresses is
	// FLAGS_quic_max_recent_stateless_reset_addresses (spec.md §6).
	DefaultMaxRecentStatelessResetAddresses = 1024

	// DefaultRecentStatelessResetAddressesLifetime is the lifetime of the
	// recent-reset set alarm (spec.md §5,
	// clear_stateless_reset_addresses_alarm_).
	DefaultRecentStatelessResetAddressesLifetime = 5 * time.Second

	// MinClientInitialPacketLength is kMinClientInitialPacketLength
	// (spec.md §4.G step 2, §8): an INITIAL packet shorter than this is
	// dropped regardless of content, to resist amplification.
	MinClientInitialPacketLength protocol.ByteCount = 1200

	// MinimumInitialConnectionIDLength is
	// kQuicMinimumInitialConnectionIdLength (spec.md §4.G step 2, §8): the
	// first INITIAL packet of a connection must carry a destination CID of
	// at least this many octets on a known version.
	MinimumInitialConnectionIDLength = 8
)

// BlockedSourcePorts is the fixed set of UDP source ports the dispatcher
// silently drops packets from (spec.md §4.G step 2), matching well-known
// services that are sometimes abused to source reflected/amplified traffic
// at a QUIC server.
var BlockedSourcePorts = map[uint16]struct{}{
	0:     {},
	17:    {},
	19:    {},
	53:    {},
	111:   {},
	123:   {},
	137:   {},
	138:   {},
	161:   {},
	389:   {},
	500:   {},
	1900:  {},
	3702:  {},
	5353:  {},
	5355:  {},
	11211: {},
}

// Config configures a Dispatcher. A nil *Config is equivalent to &Config{};
// zero-valued fields are replaced with defaults by populateConfig, mirroring
// the teacher's quic.Config.populateServerConfig pattern.
type Config struct {
	// Versions lists the QUIC versions the dispatcher will create sessions
	// for, in descending preference order. Defaults to
	// protocol.SupportedVersions.
	Versions []protocol.VersionNumber

	// ConnectionIDLength is expected_server_connection_id_length_
	// (spec.md §6), 0-20. Advisory for IETF long-header packets,
	// authoritative for GOOGLE_QUIC form (spec.md §4.A).
	ConnectionIDLength int

	// StatelessResetKey derives per-connection stateless reset tokens
	// (see stateless_resetter.go). Must stay stable across restarts for
	// resets to remain recognizable to clients that saw earlier tokens;
	// a nil key disables stateless reset token issuance.
	StatelessResetKey []byte

	// MaxPacketsPerConnection is kMaxPacketsPerConnection.
	MaxPacketsPerConnection int

	// MaxBufferedConnections is kMaxConnections.
	MaxBufferedConnections int

	// InitialIdleTimeout is kInitialIdleTimeout: the age at which a
	// BufferedPacketList is expired (spec.md §4.C).
	InitialIdleTimeout time.Duration

	// MaxConnectionsToCreate bounds ProcessBufferedChlos per call.
	MaxConnectionsToCreate int

	// NewSessionsAllowedPerEventLoop is the per-turn session-creation
	// quota ProcessChlo decrements (spec.md §4.G step 5).
	NewSessionsAllowedPerEventLoop int

	// MaxRecentStatelessResetAddresses bounds the recent-reset set
	// (spec.md §3, §8 invariant 6).
	MaxRecentStatelessResetAddresses int

	// RecentStatelessResetAddressesLifetime is the lifetime of an entry
	// in the recent-reset set before the shared alarm clears it.
	RecentStatelessResetAddressesLifetime time.Duration

	// AllowCHLOBuffering mirrors FLAGS_quic_allow_chlo_buffering. It is
	// carried through populateConfig, but the dispatcher does not read it:
	// a CHLO that can't immediately create a session is always buffered.
	AllowCHLOBuffering bool

	// DisableLegacyVersionEncapsulation turns off the §4.I inner-packet
	// extraction path entirely.
	DisableLegacyVersionEncapsulation bool

	// MapOriginalConnectionIDs controls whether ProcessChlo also inserts
	// the pre-replacement original CID into the connection-ID map
	// pointing at the same session (spec.md §4.G step 5, §9).
	MapOriginalConnectionIDs bool

	// ConnectionIDGenerator implements deterministic CID replacement
	// (spec.md §4.J). A nil generator disables CID replacement:
	// MaybeDispatchPacket never rewrites an incoming CID.
	ConnectionIDGenerator ConnectionIDGenerator

	// Tracer receives qlog-style events for every connection the
	// dispatcher processes. A nil Tracer is replaced with
	// logging.NullTracer{}.
	Tracer logging.Tracer
}

// Clone returns a shallow copy of c. Shallow is sufficient: every field is
// either a value type, an immutable slice handed in by the caller, or an
// interface the caller retains ownership of.
func (c *Config) Clone() *Config {
	copy := *c
	return &copy
}

func validateConfig(config *Config) error {
	if config == nil {
		return nil
	}
	if config.ConnectionIDLength < 0 || config.ConnectionIDLength > 20 {
		return errors.New("dispatcher: invalid value for Config.ConnectionIDLength")
	}
	if config.MaxPacketsPerConnection < 0 {
		return errors.New("dispatcher: invalid value for Config.MaxPacketsPerConnection")
	}
	if config.MaxBufferedConnections < 0 {
		return errors.New("dispatcher: invalid value for Config.MaxBufferedConnections")
	}
	return nil
}

// populateConfig fills in default values for every zero-valued field of
// config, returning a new *Config. It may be called with nil. Mirrors the
// teacher's populateConfig, generalized from transport/flow-control
// defaults to the dispatcher's buffering/timing/quota defaults.
func populateConfig(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}

	versions := config.Versions
	if len(versions) == 0 {
		versions = protocol.SupportedVersions
	}
	connIDLength := config.ConnectionIDLength
	if connIDLength == 0 {
		connIDLength = DefaultConnectionIDLength
	}
	maxPacketsPerConnection := config.MaxPacketsPerConnection
	if maxPacketsPerConnection == 0 {
		maxPacketsPerConnection = DefaultMaxPacketsPerConnection
	}
	maxBufferedConnections := config.MaxBufferedConnections
	if maxBufferedConnections == 0 {
		maxBufferedConnections = DefaultMaxBufferedConnections
	}
	initialIdleTimeout := config.InitialIdleTimeout
	if initialIdleTimeout == 0 {
		initialIdleTimeout = DefaultInitialIdleTimeout
	}
	maxConnectionsToCreate := config.MaxConnectionsToCreate
	if maxConnectionsToCreate == 0 {
		maxConnectionsToCreate = DefaultMaxConnectionsToCreate
	}
	newSessionsAllowed := config.NewSessionsAllowedPerEventLoop
	if newSessionsAllowed == 0 {
		newSessionsAllowed = DefaultNewSessionsAllowedPerEventLoop
	}
	maxRecentResetAddrs := config.MaxRecentStatelessResetAddresses
	if maxRecentResetAddrs == 0 {
		maxRecentResetAddrs = DefaultMaxRecentStatelessResetAddresses
	}
	resetAddrsLifetime := config.RecentStatelessResetAddressesLifetime
	if resetAddrsLifetime == 0 {
		resetAddrsLifetime = DefaultRecentStatelessResetAddressesLifetime
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = logging.NullTracer{}
	}

	return &Config{
		Versions:                               versions,
		ConnectionIDLength:                      connIDLength,
		StatelessResetKey:                       config.StatelessResetKey,
		MaxPacketsPerConnection:                 maxPacketsPerConnection,
		MaxBufferedConnections:                  maxBufferedConnections,
		InitialIdleTimeout:                      initialIdleTimeout,
		MaxConnectionsToCreate:                  maxConnectionsToCreate,
		NewSessionsAllowedPerEventLoop:          newSessionsAllowed,
		MaxRecentStatelessResetAddresses:        maxRecentResetAddrs,
		RecentStatelessResetAddressesLifetime:   resetAddrsLifetime,
		AllowCHLOBuffering:                      config.AllowCHLOBuffering,
		DisableLegacyVersionEncapsulation:       config.DisableLegacyVersionEncapsulation,
		MapOriginalConnectionIDs:                config.MapOriginalConnectionIDs,
		ConnectionIDGenerator:                   config.ConnectionIDGenerator,
		Tracer:                                  tracer,
	}
}
