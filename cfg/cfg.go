// Package cfg attributes a function's decoded samples, edges and traces down
// to basic-block granularity, given an externally supplied control-flow
// graph. This package never builds a CFG itself - the compiler backend
// already knows its own block structure far better than anything
// reconstructable from machine code - it only consumes one through
// CfgWithLayout and produces per-block counts.
//
// Blocks are found by the linear-IR label decode.Table attaches to each
// sampled address (Location.Label), not by matching a raw address against a
// block's address range: two different compiler passes can disagree on
// exactly which bytes belong to a block, but they agree on the label that
// owns a given instruction. Edges and traces are classified as intra- or
// inter-function before being credited: an intra-function edge must match
// one of its source block's declared successors or it is discarded as
// incompatible with the supplied CFG, while an inter-function edge is
// credited as a synthetic call from the source block to the target
// function, never matched against a successor list at all.
package cfg

import (
	"github.com/nandor/ocamlfdo/aggregate"
	"github.com/nandor/ocamlfdo/decode"
	"github.com/nandor/ocamlfdo/funcprofile"
)

// SuccessorEdge is one outgoing edge of a Block, as declared by the supplied
// CFG: the label of the block it may transfer control to, independent of
// whatever taken/mispredict counts end up attributed to it.
type SuccessorEdge struct {
	TargetLabel string
}

// Block identifies one basic block of a function by the linear-IR label
// that owns it, along with the address range its instructions were placed
// at (used only to detect fall-through adjacency between blocks) and the
// successor edges the CFG declares leaving it.
type Block struct {
	Function   string
	Label      string
	Start, End uint64
	Successors []SuccessorEdge
}

// Contains reports whether addr falls within b's placed address range.
func (b Block) Contains(addr uint64) bool {
	return addr >= b.Start && addr < b.End
}

// CfgWithLayout is implemented by the caller's own IR/CFG representation. It
// exposes just enough about block layout and successor structure for this
// package to attribute samples; everything about the compiler's internal
// CFG (dominance, loop structure, whatever) stays on the caller's side.
type CfgWithLayout interface {
	// Blocks returns every basic block belonging to function, in no
	// particular order.
	Blocks(function string) []Block
}

// BlockCount holds the attributed counts for a single block: entry (samples
// whose IP decoded to a label inside the block), per-successor taken and
// mispredict counts for edges confirmed against the block's declared
// successors, and call-site counts for inter-function edges leaving the
// block.
type BlockCount struct {
	Block      Block
	Entry      uint64
	Successors map[string]aggregate.EdgeCount
	Calls      map[string]uint64
}

func newBlockCount(b Block) *BlockCount {
	return &BlockCount{
		Block:      b,
		Successors: make(map[string]aggregate.EdgeCount),
		Calls:      make(map[string]uint64),
	}
}

// Attribute attributes function's scoped instruction/branch/trace tables
// (funcprofile.Profile.Agg[function]) down to the blocks g reports for it,
// using table to resolve each sampled address to its linear-IR label.
//
// Per the precondition of the attribution step this implements, a function
// with no attributed samples, or none of whose addresses carry a linear-IR
// label at all, cannot be meaningfully attributed against any CFG; Attribute
// reports that by returning a nil map and a nil error rather than treating
// it as a failure.
func Attribute(g CfgWithLayout, table *decode.Table, p *funcprofile.Profile, function string) (map[string]*BlockCount, uint64, error) {
	if p.Self[function] == 0 || !table.HasLinearIDs(function) {
		return nil, 0, nil
	}

	agg, ok := p.Agg[function]
	if !ok {
		return nil, 0, nil
	}

	blocks := make(map[string]*BlockCount)
	for _, b := range g.Blocks(function) {
		blocks[b.Label] = newBlockCount(b)
	}
	if len(blocks) == 0 {
		return nil, 0, nil
	}

	for addr, n := range agg.Instructions {
		loc, ok := table.Lookup(addr)
		if !ok || loc.Function != function {
			continue
		}
		if bc, ok := blocks[loc.Label]; ok {
			bc.Entry += n
		}
	}

	for e, ec := range agg.Branches {
		fromLoc, fromOK := table.Lookup(e.From)
		toLoc, toOK := table.Lookup(e.To)
		if !fromOK || !toOK {
			continue
		}

		switch {
		case fromLoc.Function == function && toLoc.Function == function:
			// Intra-function: only credit an edge the CFG actually
			// declares between these two blocks.
			fromBlock, ok := blocks[fromLoc.Label]
			if !ok {
				continue
			}
			if !hasSuccessor(fromBlock.Block, toLoc.Label) {
				continue
			}
			cur := fromBlock.Successors[toLoc.Label]
			cur.Taken += ec.Taken
			cur.Mispredicts += ec.Mispredicts
			fromBlock.Successors[toLoc.Label] = cur

		case fromLoc.Function == function:
			// Inter-function, call leaving this function: credited as a
			// synthetic call edge on the source block, never checked
			// against a successor list (the callee isn't one of this
			// function's blocks).
			fromBlock, ok := blocks[fromLoc.Label]
			if !ok {
				continue
			}
			fromBlock.Calls[toLoc.Function] += ec.Taken

		default:
			// fromLoc.Function != function: the call site belongs to the
			// caller's own CFG, not this function's.
		}
	}

	var malformed uint64
	for e, n := range agg.Traces {
		fromLoc, fromOK := table.Lookup(e.From)
		toLoc, toOK := table.Lookup(e.To)
		if !fromOK || !toOK || fromLoc.Function != function || toLoc.Function != function {
			malformed += n
			continue
		}

		fromBlock, ok := blocks[fromLoc.Label]
		if !ok || !hasSuccessor(fromBlock.Block, toLoc.Label) {
			malformed += n
			continue
		}
		toBlock, ok := blocks[toLoc.Label]
		if !ok || toBlock.Block.Start != fromBlock.Block.End {
			// Not adjacent in address order - not a valid fall-through
			// even though the CFG declares the edge (a taken branch would
			// have to be involved, not a fall-through).
			malformed += n
			continue
		}

		cur := fromBlock.Successors[toLoc.Label]
		cur.Taken += n
		fromBlock.Successors[toLoc.Label] = cur
	}

	return blocks, malformed, nil
}

func hasSuccessor(b Block, label string) bool {
	for _, s := range b.Successors {
		if s.TargetLabel == label {
			return true
		}
	}
	return false
}
