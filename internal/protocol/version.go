package protocol

import "fmt"

// VersionNumber is the 32-bit version number carried in a long header.
type VersionNumber uint32

// The version numbers this dispatcher recognizes. VersionWhatever is used
// internally when the caller doesn't care about the version; VersionUnknown
// is what ChooseSupportedVersion returns when no version is shared.
const (
	Version1       VersionNumber = 0x00000001
	Version2       VersionNumber = 0x6b3343cf
	VersionDraft29 VersionNumber = 0xff00001d
	VersionWhatever VersionNumber = 0
	VersionUnknown VersionNumber = 0xffffffff

	// VersionGQUIC50 is a legacy, pre-TLS gQUIC version tag ("Q050"):
	// recognized (IsKnown) so its CHLOs reach step 4's extractor choice,
	// but not TLS-carried, so that choice lands on the legacy extractor.
	VersionGQUIC50 VersionNumber = 0x51303530

	// VersionGQUICCompat is the legacy-version-encapsulation sentinel of
	// spec.md §4.I: an outer packet claiming this version may carry an
	// inner packet of a genuinely older version, wrapped for middlebox
	// traversal.
	VersionGQUICCompat VersionNumber = 0x51474343 // "QGCC"
)

// SupportedVersions lists the versions the dispatcher will create sessions
// for, in descending preference order. VersionGQUIC50 is last: it is
// recognized so its CHLOs aren't version-negotiated away, but every
// TLS-carried version is preferred when a client offers both.
var SupportedVersions = []VersionNumber{
	Version1,
	Version2,
	VersionDraft29,
	VersionGQUIC50,
}

// tlsVersions lists the versions whose handshake is carried over TLS 1.3
// CRYPTO frames, the set UsesTLS checks membership against.
var tlsVersions = []VersionNumber{Version1, Version2, VersionDraft29}

// UsesTLS reports whether the version's handshake is carried over TLS 1.3
// CRYPTO frames. False for VersionGQUIC50 (the legacy tag/value CHLO
// format), VersionGQUICCompat (not a handshake version at all, just an
// encapsulation sentinel) and VersionWhatever.
func (v VersionNumber) UsesTLS() bool {
	return IsSupportedVersion(tlsVersions, v)
}

// UsesLengthPrefixedConnectionIDs reports whether this version encodes
// connection IDs with an explicit length byte (every IETF QUIC version
// does; it's named separately because the invariant differs for
// VersionWhatever placeholders used in tests).
func (v VersionNumber) UsesLengthPrefixedConnectionIDs() bool {
	return v != VersionWhatever
}

func (v VersionNumber) IsKnown() bool {
	return IsSupportedVersion(SupportedVersions, v)
}

func (v VersionNumber) String() string {
	switch v {
	case VersionWhatever:
		return "whatever"
	case VersionUnknown:
		return "unknown"
	case VersionGQUICCompat:
		return "gquic-compat"
	case VersionGQUIC50:
		return "Q050"
	case Version1:
		return "v1"
	case Version2:
		return "v2"
	case VersionDraft29:
		return "draft-29"
	default:
		return fmt.Sprintf("0x%08x", uint32(v))
	}
}

// IsSupportedVersion reports whether v appears in supported.
func IsSupportedVersion(supported []VersionNumber, v VersionNumber) bool {
	for _, s := range supported {
		if s == v {
			return true
		}
	}
	return false
}

// ChooseSupportedVersion returns the first version in ours (our preference
// order) that also appears in theirs, or VersionUnknown if there is no
// overlap.
func ChooseSupportedVersion(ours, theirs []VersionNumber) VersionNumber {
	for _, ourVer := range ours {
		for _, theirVer := range theirs {
			if ourVer == theirVer {
				return ourVer
			}
		}
	}
	return VersionUnknown
}
