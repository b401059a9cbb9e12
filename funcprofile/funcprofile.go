// Package funcprofile partitions a decoded raw profile by function,
// implementing the rule that an edge crossing a function boundary belongs to
// both functions: the callee's sampled count must include time spent because
// of that edge just as much as the caller's does. Self samples and
// intra-function edges are attributed once; edges between two different
// functions bump both functions' count and both functions' per-edge tables,
// so that summing every function's count over-counts total samples by
// exactly the taken counts of the interprocedural edges - the invariant the pipeline
// relies on to sanity-check a decode.
package funcprofile

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nandor/ocamlfdo/aggregate"
	"github.com/nandor/ocamlfdo/curated"
	"github.com/nandor/ocamlfdo/decode"
)

// FuncAgg is one function's share of the raw profile: the addresses,
// branches and traces that were attributed to it, scoped down from the
// global aggregate.Aggregator tables to just this function's own.
type FuncAgg struct {
	Instructions map[uint64]uint64
	Branches     map[aggregate.Edge]*aggregate.EdgeCount
	Traces       map[aggregate.Edge]uint64
}

func newFuncAgg() *FuncAgg {
	return &FuncAgg{
		Instructions: make(map[uint64]uint64),
		Branches:     make(map[aggregate.Edge]*aggregate.EdgeCount),
		Traces:       make(map[aggregate.Edge]uint64),
	}
}

// Profile is the function-level partition of a raw profile.
type Profile struct {
	// Self counts every sample attributed to a function: instruction
	// samples landing inside it, plus the taken count of every branch
	// edge with at least one endpoint inside it (once for an intra-function
	// edge, once per side for an interprocedural one).
	Self map[string]uint64

	// FunctionID carries through decode.Table's dense function ids so that
	// downstream consumers (layout's emission order) can break ties the
	// same way the decoder discovered functions, not by name.
	FunctionID map[string]int

	// Agg holds each function's own scoped instruction/branch/trace tables.
	Agg map[string]*FuncAgg

	// Callers[callee][caller] counts edges decoded as entering callee from
	// an address in a different function, caller.
	Callers map[string]map[string]uint64
}

func (p *Profile) agg(function string) *FuncAgg {
	a, ok := p.Agg[function]
	if !ok {
		a = newFuncAgg()
		p.Agg[function] = a
	}
	return a
}

// chargeBranch adds ec's taken count to function's Self and records e in its
// scoped Branches table. Each edge must reach a given function's table at
// most once; a caller passing the same edge twice for the same function
// indicates a decoder bug, not a legitimate double count.
func (p *Profile) chargeBranch(function string, e aggregate.Edge, ec *aggregate.EdgeCount) error {
	p.Self[function] += ec.Taken
	agg := p.agg(function)
	if _, dup := agg.Branches[e]; dup {
		return curated.Errorf("funcprofile: edge %#x->%#x charged twice to %s", e.From, e.To, function)
	}
	agg.Branches[e] = ec
	return nil
}

// chargeTrace records n recurrences of e in function's scoped Traces table,
// without touching Self - traces are evidence about fall-through shape, not
// an independent count of samples, and double-counting them against Self
// alongside the branch they duplicate would inflate the profile.
func (p *Profile) chargeTrace(function string, e aggregate.Edge, n uint64) error {
	agg := p.agg(function)
	if _, dup := agg.Traces[e]; dup {
		return curated.Errorf("funcprofile: trace %#x->%#x charged twice to %s", e.From, e.To, function)
	}
	agg.Traces[e] = n
	return nil
}

// Build partitions instr (per-address sample counts, typically
// aggregate.Aggregator.Instructions), edges (typically
// aggregate.Aggregator.Branches) and traces (aggregate.Aggregator.Traces)
// using table to resolve addresses to functions.
func Build(
	table *decode.Table,
	instr map[uint64]uint64,
	edges map[aggregate.Edge]*aggregate.EdgeCount,
	traces map[aggregate.Edge]uint64,
) (*Profile, error) {
	p := &Profile{
		Self:       make(map[string]uint64),
		FunctionID: make(map[string]int),
		Agg:        make(map[string]*FuncAgg),
		Callers:    make(map[string]map[string]uint64),
	}

	for addr, n := range instr {
		loc, ok := table.Lookup(addr)
		if !ok || loc.Function == "" {
			continue
		}
		p.Self[loc.Function] += n
		p.FunctionID[loc.Function] = loc.FunctionID
		p.agg(loc.Function).Instructions[addr] += n
	}

	for e, ec := range edges {
		fa, fb, ok := endpoints(table, p, e.From, e.To)
		if !ok {
			continue
		}
		if fa == "" && fb == "" {
			continue
		}
		switch {
		case fa == "":
			if err := p.chargeBranch(fb, e, ec); err != nil {
				return nil, err
			}
		case fb == "":
			if err := p.chargeBranch(fa, e, ec); err != nil {
				return nil, err
			}
		case fa == fb:
			if err := p.chargeBranch(fa, e, ec); err != nil {
				return nil, err
			}
		default:
			if err := p.chargeBranch(fa, e, ec); err != nil {
				return nil, err
			}
			if err := p.chargeBranch(fb, e, ec); err != nil {
				return nil, err
			}
			callers, ok := p.Callers[fb]
			if !ok {
				callers = make(map[string]uint64)
				p.Callers[fb] = callers
			}
			callers[fa] += ec.Taken
		}
	}

	for e, n := range traces {
		fa, fb, ok := endpoints(table, p, e.From, e.To)
		if !ok {
			continue
		}
		if fa == "" && fb == "" {
			continue
		}
		switch {
		case fa == "":
			if err := p.chargeTrace(fb, e, n); err != nil {
				return nil, err
			}
		case fb == "":
			if err := p.chargeTrace(fa, e, n); err != nil {
				return nil, err
			}
		case fa == fb:
			if err := p.chargeTrace(fa, e, n); err != nil {
				return nil, err
			}
		default:
			if err := p.chargeTrace(fa, e, n); err != nil {
				return nil, err
			}
			if err := p.chargeTrace(fb, e, n); err != nil {
				return nil, err
			}
		}
	}

	return p, nil
}

// endpoints resolves the functions owning addrs from and to, recording
// their dense ids as a side effect of the lookup. A missing function name
// (ok but empty, or not found at all) is reported as "".
func endpoints(table *decode.Table, p *Profile, from, to uint64) (fa, fb string, ok bool) {
	fromLoc, _ := table.Lookup(from)
	toLoc, _ := table.Lookup(to)
	if fromLoc.Function != "" {
		p.FunctionID[fromLoc.Function] = fromLoc.FunctionID
	}
	if toLoc.Function != "" {
		p.FunctionID[toLoc.Function] = toLoc.FunctionID
	}
	return fromLoc.Function, toLoc.Function, true
}

const maxCallerDepth = 15

// WriteCallers writes the tree of functions that (transitively) called
// function, most frequent caller first at each level, indented two spaces
// per level. It returns a curated error if function was never observed or
// if the caller graph contains a cycle deep enough to exceed the maximum
// walk depth.
func (p *Profile) WriteCallers(w io.Writer, function string) error {
	if _, ok := p.Callers[function]; !ok {
		if _, ok := p.Self[function]; !ok {
			return curated.Errorf("funcprofile: no function named %s was ever observed", function)
		}
	}

	fmt.Fprintln(w, function)
	return p.writeCallers(w, function, 1)
}

func (p *Profile) writeCallers(w io.Writer, callee string, depth int) error {
	if depth > maxCallerDepth {
		return curated.Errorf("funcprofile: caller chain for %s exceeds maximum depth", callee)
	}

	callers := p.Callers[callee]
	if len(callers) == 0 {
		return nil
	}

	names := make([]string, 0, len(callers))
	for name := range callers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if callers[names[i]] != callers[names[j]] {
			return callers[names[i]] > callers[names[j]]
		}
		return names[i] < names[j]
	})

	indent := strings.Repeat("  ", depth)
	for _, name := range names {
		fmt.Fprintf(w, "%s%s (%d)\n", indent, name, callers[name])
		if err := p.writeCallers(w, name, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Functions returns every function name present in Self or in the caller
// graph (as callee or as caller), sorted by descending self count, ties
// broken by name.
func (p *Profile) Functions() []string {
	seen := make(map[string]bool)
	for name := range p.Self {
		seen[name] = true
	}
	for callee, callers := range p.Callers {
		seen[callee] = true
		for name := range callers {
			seen[name] = true
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		if p.Self[out[i]] != p.Self[out[j]] {
			return p.Self[out[i]] > p.Self[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
