package curated

// Patterns used with Errorf() across the pipeline. Kept as named constants
// (rather than inline strings at every call site) so that Is()/Has() checks
// elsewhere in the codebase, and in callers of this module, don't drift from
// the message actually produced.
//
// Each constant is a fmt pattern, not a plain sentinel, because curated errors
// carry their formatting arguments through to Error() - see Errorf().
const (
	// BadSampleFormat is reported by the raw-sample parser with the
	// offending line number, eg. "bad sample format at line %d: %s".
	BadSampleFormat = "bad sample format at line %d: %s"

	// OffsetTooLarge is reported by the location decoder when an address
	// falls inside a function interval but the offset does not fit in a
	// machine int.
	OffsetTooLarge = "offset too large for function %s: %#x - %#x"

	// FunctionBoundaryDrift is reported when a function name is re-observed
	// with different start/finish bounds than the first sighting.
	FunctionBoundaryDrift = "function boundary drift for %s: first seen %#x-%#x, now %#x-%#x"

	// DigestMissing is reported by the digest registry's Fail policy when a
	// required digest entry is absent.
	DigestMissing = "digest missing for %s"

	// DigestMismatch is reported by the digest registry's Fail policy when
	// a digest entry disagrees with the expected value.
	DigestMismatch = "digest mismatch for %s"

	// CounterOverflow is reported when a counter would overflow its 64-bit
	// range and the overflow policy is set to error rather than saturate.
	CounterOverflow = "counter overflow for %s"

	// IncompatibleVersion is reported by the binary profile reader when the
	// format version in the header does not match what this build produces.
	IncompatibleVersion = "incompatible profile version: got %d, want %d"

	// BuildidMismatch is reported by merge when two profiles carry
	// different, non-empty build-ids and ignore_buildid was not requested.
	BuildidMismatch = "build-id mismatch: %s vs %s"

	// EmptyDigestConfig is reported at digest.Config construction when
	// neither function nor unit digests are enabled.
	EmptyDigestConfig = "digest config must require at least one of function or unit digests"
)
