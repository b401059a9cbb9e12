// Package config gathers the pipeline's run-time knobs into a single
// validated value. Flag parsing itself is out of scope here; this package
// only owns the invariant checking that a set of knobs, however they were
// gathered, must satisfy before a run starts.
package config

import (
	"github.com/nandor/ocamlfdo/aggregate"
	"github.com/nandor/ocamlfdo/curated"
	"github.com/nandor/ocamlfdo/digest"
)

// Config is the validated set of options governing one decode/aggregate/
// attribute run. The zero value is not useful; construct one with New.
type Config struct {
	// Overflow controls what aggregate.Aggregator does when a counter
	// would exceed uint64 range.
	Overflow aggregate.OverflowPolicy

	// Digest governs function/unit content-digest tracking.
	Digest digest.Config

	// IgnoreLocalDup suppresses the address-boundary-drift error that
	// address.Map.Insert raises when a function symbol's address range
	// overlaps one already indexed; the overlapping symbol is skipped.
	// Symbols are not compared by name: same-named symbols at disjoint
	// addresses are all indexed whether or not this is set.
	IgnoreLocalDup bool

	// IgnoreBuildID allows profile.Merge to combine profiles carrying
	// different build-ids.
	IgnoreBuildID bool

	// ReadAggregated, if non-empty, is the path an aggregated raw profile
	// is read from instead of re-aggregating raw samples.
	ReadAggregated string

	// WriteAggregated, if non-empty, is the path an aggregated raw
	// profile is written to after aggregation.
	WriteAggregated string

	// Verbose enables detail-level log entries in addition to the ones
	// always retained.
	Verbose bool
}

// Option configures a Config under construction.
type Option func(*Config)

// WithOverflow sets the aggregate overflow policy. Default is
// aggregate.Saturate.
func WithOverflow(p aggregate.OverflowPolicy) Option {
	return func(c *Config) { c.Overflow = p }
}

// WithDigest sets the digest configuration. Default is the zero value,
// which tracks no digests.
func WithDigest(d digest.Config) Option {
	return func(c *Config) { c.Digest = d }
}

// WithIgnoreLocalDup sets IgnoreLocalDup.
func WithIgnoreLocalDup(v bool) Option {
	return func(c *Config) { c.IgnoreLocalDup = v }
}

// WithIgnoreBuildID sets IgnoreBuildID.
func WithIgnoreBuildID(v bool) Option {
	return func(c *Config) { c.IgnoreBuildID = v }
}

// WithReadAggregated sets ReadAggregated.
func WithReadAggregated(path string) Option {
	return func(c *Config) { c.ReadAggregated = path }
}

// WithWriteAggregated sets WriteAggregated.
func WithWriteAggregated(path string) Option {
	return func(c *Config) { c.WriteAggregated = path }
}

// WithVerbose sets Verbose.
func WithVerbose(v bool) Option {
	return func(c *Config) { c.Verbose = v }
}

// New builds a Config from opts and validates it. Reading and writing the
// aggregated profile from/to the same path in one run is rejected: the
// write would either race the read or silently make it a no-op, and
// neither is something a caller should reach by accident.
func New(opts ...Option) (*Config, error) {
	c := &Config{Overflow: aggregate.Saturate}
	for _, o := range opts {
		o(c)
	}

	if c.ReadAggregated != "" && c.ReadAggregated == c.WriteAggregated {
		return nil, curated.Errorf("config: -read-aggregated and -write-aggregated must not name the same path (%s)", c.ReadAggregated)
	}

	return c, nil
}
