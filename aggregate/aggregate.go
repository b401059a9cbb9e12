// Package aggregate folds a stream of rawsample.Sample records into
// address-keyed counters: how often each instruction pointer was
// interrupted, how often each branch edge was taken and mispredicted, and
// how often each inferred fall-through trace recurred between consecutive
// LBR entries. This is the raw, not-yet-decoded profile; decode.Table and
// cfg.Attribute turn it into source attributions downstream.
package aggregate

import (
	"math"

	"github.com/nandor/ocamlfdo/curated"
	"github.com/nandor/ocamlfdo/logger"
	"github.com/nandor/ocamlfdo/rawsample"
)

// Edge identifies a single taken branch, or an inferred fall-through trace,
// by its endpoints.
type Edge struct {
	From uint64
	To   uint64
}

// EdgeCount accumulates how often an Edge was taken and how often that take
// mispredicted.
type EdgeCount struct {
	Taken       uint64
	Mispredicts uint64
}

// OverflowPolicy controls what happens when an accumulator would exceed the
// range of a uint64.
type OverflowPolicy int

// List of valid OverflowPolicy values.
const (
	// Saturate clamps the counter at math.MaxUint64 instead of wrapping.
	Saturate OverflowPolicy = iota

	// Error returns a curated error from Add, leaving the counter at its
	// pre-overflow value.
	Error
)

// Aggregator accumulates raw samples into per-address and per-edge counts.
// The zero value is not useful; use NewAggregator.
type Aggregator struct {
	policy OverflowPolicy
	log    *logger.Logger

	instructions map[uint64]uint64
	branches     map[Edge]*EdgeCount
	traces       map[Edge]uint64
}

func bumpAddr(policy OverflowPolicy, m map[uint64]uint64, key uint64, delta uint64) error {
	v, err := saturatingAdd(policy, m[key], delta)
	if err != nil {
		return err
	}
	m[key] = v
	return nil
}

// NewAggregator returns an empty Aggregator governed by policy. A nil log
// falls back to the package-level default logger.
func NewAggregator(policy OverflowPolicy, log *logger.Logger) *Aggregator {
	return &Aggregator{
		policy:       policy,
		log:          log,
		instructions: make(map[uint64]uint64),
		branches:     make(map[Edge]*EdgeCount),
		traces:       make(map[Edge]uint64),
	}
}

func (a *Aggregator) logf(format string, args ...interface{}) {
	if a.log != nil {
		a.log.Logf(logger.Allow, "aggregate", format, args...)
		return
	}
	logger.Logf(logger.Allow, "aggregate", format, args...)
}

// Add folds one sample into the running totals.
//
// Branches is walked chronologically (Reader already reverses the
// hardware's most-recent-first order). For each branch: a branch whose
// endpoints repeat the previous one is a duplicate; if it's the last entry
// in the chain that's an expected LBR tail artifact and is skipped
// silently, anywhere else it's unexpected and only logged. A non-duplicate
// branch increments its edge's taken/mispredict counts. Between every pair
// of consecutive branches, except where the second is the skipped tail
// duplicate, the fall-through from the
// previous branch's target to the current branch's source is recorded as a
// trace, unless prev.To >= cur.From, which would mean execution fell
// backwards or stayed put - not a valid straight-line trace, so it's
// dropped rather than recorded.
func (a *Aggregator) Add(s rawsample.Sample) error {
	if err := bumpAddr(a.policy, a.instructions, s.IP, 1); err != nil {
		return err
	}

	var prev *rawsample.Branch
	for i := range s.Branches {
		cur := s.Branches[i]
		isLast := i == len(s.Branches)-1

		duplicate := prev != nil && prev.From == cur.From && prev.To == cur.To
		suppressed := duplicate && isLast
		if duplicate && !isLast {
			a.logf("duplicate LBR entry mid-chain: %#x -> %#x", cur.From, cur.To)
		}

		if !suppressed {
			e := Edge{From: cur.From, To: cur.To}
			ec, ok := a.branches[e]
			if !ok {
				ec = &EdgeCount{}
				a.branches[e] = ec
			}
			v, err := saturatingAdd(a.policy, ec.Taken, 1)
			if err != nil {
				return err
			}
			ec.Taken = v
			if cur.Mispredict {
				v, err := saturatingAdd(a.policy, ec.Mispredicts, 1)
				if err != nil {
					return err
				}
				ec.Mispredicts = v
			}
		}

		if prev != nil && !suppressed {
			if prev.To >= cur.From {
				a.logf("malformed fall-through trace: %#x -> %#x", prev.To, cur.From)
			} else if err := a.bump(a.traces, Edge{From: prev.To, To: cur.From}, 1); err != nil {
				return err
			}
		}

		c := cur
		prev = &c
	}

	return nil
}

func (a *Aggregator) bump(m map[Edge]uint64, key Edge, delta uint64) error {
	v, err := saturatingAdd(a.policy, m[key], delta)
	if err != nil {
		return err
	}
	m[key] = v
	return nil
}

func saturatingAdd(policy OverflowPolicy, a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		if policy == Saturate {
			return math.MaxUint64, nil
		}
		return a, curated.Errorf(curated.CounterOverflow, "aggregate")
	}
	return a + b, nil
}

// Instructions returns the accumulated per-IP sample counts.
func (a *Aggregator) Instructions() map[uint64]uint64 {
	return a.instructions
}

// Branches returns the accumulated per-edge counts.
func (a *Aggregator) Branches() map[Edge]*EdgeCount {
	return a.branches
}

// Traces returns the accumulated per-fall-through-edge recurrence counts.
func (a *Aggregator) Traces() map[Edge]uint64 {
	return a.traces
}
