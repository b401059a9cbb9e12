// Package digest computes and checks content-addressable MD5 digests for the
// two granularities the pipeline cares about: a compilation unit's debug-line
// text and an individual IR function's body. Digests let a profile be matched
// back against a binary that is bit-for-bit different (different build-id)
// but whose debug-relevant content has not changed, and they let decode flag
// the opposite case, content drift, instead of silently mis-attributing
// samples.
package digest

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/nandor/ocamlfdo/curated"
)

// Kind identifies what a digest was computed over.
type Kind int

// List of valid Kind values.
const (
	Function Kind = iota
	Unit
)

func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case Unit:
		return "unit"
	default:
		return "unknown"
	}
}

// Policy controls what Check() does when a digest is missing or disagrees
// with an expected value. Add() does not consult any Policy: it always
// records, replacing any digest already held for the key.
type Policy int

// List of valid Policy values.
const (
	// Fail returns a curated error and leaves the registry unchanged.
	Fail Policy = iota

	// Skip ignores the entry without error: a missing key is reported as
	// not-present (empty digest) and left unrecorded, a mismatching key
	// keeps and returns its previously recorded digest.
	Skip

	// UseAnyway accepts the entry regardless of any prior value, recording
	// the new digest and reporting success.
	UseAnyway
)

// Config controls which granularities are tracked and how mismatches are
// handled. At least one of Function or Unit must be requested; a registry
// with neither enabled cannot distinguish any content from any other, which
// defeats the purpose of carrying digests at all.
type Config struct {
	// Kinds enabled for this registry. Must be non-empty.
	Kinds map[Kind]bool

	// IgnoreDbg records whether compiler-generated debug annotations
	// (inlining markers, discriminators) are to be left out of the digested
	// text. The registry does not filter anything itself: Add, Check and
	// Sum hash exactly the bytes they are given, whatever this is set to.
	IgnoreDbg bool

	// OnMismatch is applied by Check() when a key is already registered
	// with a different digest.
	OnMismatch Policy

	// OnMissing is applied by Check() when a key has never been added.
	OnMissing Policy
}

// NewConfig validates cfg and returns a ready-to-use Config. It exists
// alongside the exported struct because Config construction has an invariant
// (non-empty Kinds) that a zero-value struct literal would silently violate.
func NewConfig(kinds map[Kind]bool, ignoreDbg bool, onMismatch, onMissing Policy) (Config, error) {
	enabled := false
	for _, v := range kinds {
		if v {
			enabled = true
			break
		}
	}
	if !enabled {
		return Config{}, curated.Errorf(curated.EmptyDigestConfig)
	}

	cp := make(map[Kind]bool, len(kinds))
	for k, v := range kinds {
		cp[k] = v
	}

	return Config{
		Kinds:      cp,
		IgnoreDbg:  ignoreDbg,
		OnMismatch: onMismatch,
		OnMissing:  onMissing,
	}, nil
}

// Enabled reports whether digests of the given kind are tracked by cfg.
func (c Config) Enabled(k Kind) bool {
	return c.Kinds[k]
}

// Sum returns the hex-encoded MD5 digest of text. IgnoreDbg filtering, if
// any, must be applied by the caller before calling Sum; this function only
// hashes whatever bytes it is given.
func Sum(text []byte) string {
	h := md5.Sum(text)
	return hex.EncodeToString(h[:])
}

// Registry tracks one digest per (kind, key) pair, where key is a function
// name or a compilation unit path depending on the kind.
type Registry struct {
	cfg     Config
	entries map[Kind]map[string]string
}

// NewRegistry creates an empty Registry governed by cfg.
func NewRegistry(cfg Config) *Registry {
	entries := make(map[Kind]map[string]string, len(cfg.Kinds))
	for k, enabled := range cfg.Kinds {
		if enabled {
			entries[k] = make(map[string]string)
		}
	}
	return &Registry{cfg: cfg, entries: entries}
}

// Add records the digest of text under key, for the given kind, replacing
// any digest already recorded there; OnMismatch and OnMissing are not
// consulted. If kind is not enabled in the registry's Config, Add is a no-op.
func (r *Registry) Add(k Kind, key string, text []byte) {
	m, ok := r.entries[k]
	if !ok {
		return
	}
	m[key] = Sum(text)
}

// Check verifies that text's digest for (kind, key) agrees with whatever is
// already recorded. A key seen for the first time is treated as missing,
// subject to cfg.OnMissing; a key whose recorded digest differs from text's
// is subject to cfg.OnMismatch. Returns the digest that was actually
// accepted and recorded (which may differ from Sum(text) if a prior value
// was kept under a Skip policy).
func (r *Registry) Check(k Kind, key string, text []byte) (string, error) {
	m, ok := r.entries[k]
	if !ok {
		return "", nil
	}

	sum := Sum(text)
	prev, seen := m[key]

	if !seen {
		switch r.cfg.OnMissing {
		case Fail:
			return "", curated.Errorf(curated.DigestMissing, key)
		case Skip:
			return "", nil
		case UseAnyway:
			m[key] = sum
			return sum, nil
		}
	}

	if prev == sum {
		return sum, nil
	}

	switch r.cfg.OnMismatch {
	case Fail:
		return "", curated.Errorf(curated.DigestMismatch, key)
	case Skip:
		return prev, nil
	case UseAnyway:
		m[key] = sum
		return sum, nil
	}

	return sum, nil
}

// Trim removes every recorded entry whose key is not present in keep, for
// every enabled kind. It is used after a profile has been restricted to a
// subset of hot functions/units, so that the registry persisted alongside it
// does not retain digests for content no longer referenced.
func (r *Registry) Trim(keep map[string]bool) {
	for k, m := range r.entries {
		for key := range m {
			if !keep[key] {
				delete(m, key)
			}
		}
		r.entries[k] = m
	}
}

// Len returns the number of recorded entries for kind.
func (r *Registry) Len(k Kind) int {
	return len(r.entries[k])
}

// Lookup returns the recorded digest for (kind, key), if any.
func (r *Registry) Lookup(k Kind, key string) (string, bool) {
	m, ok := r.entries[k]
	if !ok {
		return "", false
	}
	d, ok := m[key]
	return d, ok
}
