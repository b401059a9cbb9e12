package cfg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nandor/ocamlfdo/address"
	"github.com/nandor/ocamlfdo/aggregate"
	"github.com/nandor/ocamlfdo/cfg"
	"github.com/nandor/ocamlfdo/decode"
	"github.com/nandor/ocamlfdo/funcprofile"
)

type fakeGraph struct {
	blocks map[string][]cfg.Block
}

func (f fakeGraph) Blocks(function string) []cfg.Block {
	return f.blocks[function]
}

// threeBlockTable builds a decode.Table for a single function "caml_foo"
// split into three labeled blocks of 0x10 bytes each, starting at 0x1000.
func threeBlockTable(t *testing.T) *decode.Table {
	t.Helper()
	functions := address.NewMap()
	require.NoError(t, functions.Insert(address.Interval{Start: 0x1000, End: 0x1030}, "caml_foo"))

	lines := address.NewValueMap[decode.Location]()
	labels := []string{"b0", "b1", "b2"}
	for i, label := range labels {
		start := uint64(0x1000 + i*0x10)
		require.NoError(t, lines.Insert(address.Interval{Start: start, End: start + 0x10}, decode.Location{
			Function: "caml_foo",
			Label:    label,
		}))
	}
	return decode.NewTable(lines, functions)
}

func TestAttributeAssignsEntriesAndConfirmedSuccessorEdges(t *testing.T) {
	table := threeBlockTable(t)
	g := fakeGraph{blocks: map[string][]cfg.Block{
		"caml_foo": {
			{Function: "caml_foo", Label: "b0", Start: 0x1000, End: 0x1010, Successors: []cfg.SuccessorEdge{{TargetLabel: "b1"}}},
			{Function: "caml_foo", Label: "b1", Start: 0x1010, End: 0x1020, Successors: []cfg.SuccessorEdge{{TargetLabel: "b2"}}},
			{Function: "caml_foo", Label: "b2", Start: 0x1020, End: 0x1030},
		},
	}}

	instr := map[uint64]uint64{0x1005: 4, 0x1015: 6}
	edge := aggregate.Edge{From: 0x1008, To: 0x1010}
	edges := map[aggregate.Edge]*aggregate.EdgeCount{edge: {Taken: 9, Mispredicts: 1}}

	p, err := funcprofile.Build(table, instr, edges, nil)
	require.NoError(t, err)

	counts, malformed, err := cfg.Attribute(g, table, p, "caml_foo")
	require.NoError(t, err)
	require.Equal(t, uint64(0), malformed)

	require.Equal(t, uint64(4), counts["b0"].Entry)
	require.Equal(t, uint64(6), counts["b1"].Entry)
	require.Equal(t, uint64(9), counts["b0"].Successors["b1"].Taken)
	require.Equal(t, uint64(1), counts["b0"].Successors["b1"].Mispredicts)
}

func TestAttributeDiscardsIntraEdgeNotInCFG(t *testing.T) {
	table := threeBlockTable(t)
	g := fakeGraph{blocks: map[string][]cfg.Block{
		"caml_foo": {
			// b0 declares no successors at all.
			{Function: "caml_foo", Label: "b0", Start: 0x1000, End: 0x1010},
			{Function: "caml_foo", Label: "b1", Start: 0x1010, End: 0x1020},
		},
	}}

	instr := map[uint64]uint64{0x1005: 1}
	edges := map[aggregate.Edge]*aggregate.EdgeCount{
		{From: 0x1008, To: 0x1010}: {Taken: 9},
	}

	p, err := funcprofile.Build(table, instr, edges, nil)
	require.NoError(t, err)

	counts, _, err := cfg.Attribute(g, table, p, "caml_foo")
	require.NoError(t, err)
	require.Empty(t, counts["b0"].Successors)
}

func TestAttributeCreditsSyntheticCallEdgeAcrossFunctions(t *testing.T) {
	functions := address.NewMap()
	require.NoError(t, functions.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "caml_foo"))
	require.NoError(t, functions.Insert(address.Interval{Start: 0x2000, End: 0x2010}, "caml_bar"))

	lines := address.NewValueMap[decode.Location]()
	require.NoError(t, lines.Insert(address.Interval{Start: 0x1000, End: 0x1010}, decode.Location{Function: "caml_foo", Label: "b0"}))
	require.NoError(t, lines.Insert(address.Interval{Start: 0x2000, End: 0x2010}, decode.Location{Function: "caml_bar", Label: "b0"}))
	table := decode.NewTable(lines, functions)

	g := fakeGraph{blocks: map[string][]cfg.Block{
		"caml_foo": {{Function: "caml_foo", Label: "b0", Start: 0x1000, End: 0x1010}},
	}}

	instr := map[uint64]uint64{0x1005: 2}
	edges := map[aggregate.Edge]*aggregate.EdgeCount{
		{From: 0x1008, To: 0x2000}: {Taken: 5},
	}

	p, err := funcprofile.Build(table, instr, edges, nil)
	require.NoError(t, err)

	counts, _, err := cfg.Attribute(g, table, p, "caml_foo")
	require.NoError(t, err)
	require.Equal(t, uint64(5), counts["b0"].Calls["caml_bar"])
}

func TestAttributeCreditsValidFallThroughToFollowingBlock(t *testing.T) {
	table := threeBlockTable(t)
	g := fakeGraph{blocks: map[string][]cfg.Block{
		"caml_foo": {
			{Function: "caml_foo", Label: "b0", Start: 0x1000, End: 0x1010, Successors: []cfg.SuccessorEdge{{TargetLabel: "b1"}}},
			{Function: "caml_foo", Label: "b1", Start: 0x1010, End: 0x1020},
		},
	}}

	instr := map[uint64]uint64{0x1005: 1}
	traces := map[aggregate.Edge]uint64{
		{From: 0x1005, To: 0x1015}: 3,
	}

	p, err := funcprofile.Build(table, instr, nil, traces)
	require.NoError(t, err)

	counts, malformed, err := cfg.Attribute(g, table, p, "caml_foo")
	require.NoError(t, err)
	require.Equal(t, uint64(0), malformed)
	require.Equal(t, uint64(3), counts["b0"].Successors["b1"].Taken)
}

func TestAttributeCountsNonAdjacentTraceAsMalformed(t *testing.T) {
	table := threeBlockTable(t)
	g := fakeGraph{blocks: map[string][]cfg.Block{
		"caml_foo": {
			{Function: "caml_foo", Label: "b0", Start: 0x1000, End: 0x1010, Successors: []cfg.SuccessorEdge{{TargetLabel: "b2"}}},
			{Function: "caml_foo", Label: "b1", Start: 0x1010, End: 0x1020},
			{Function: "caml_foo", Label: "b2", Start: 0x1020, End: 0x1030},
		},
	}}

	instr := map[uint64]uint64{0x1005: 1}
	traces := map[aggregate.Edge]uint64{
		{From: 0x1005, To: 0x1025}: 2,
	}

	p, err := funcprofile.Build(table, instr, nil, traces)
	require.NoError(t, err)

	counts, malformed, err := cfg.Attribute(g, table, p, "caml_foo")
	require.NoError(t, err)
	require.Equal(t, uint64(2), malformed)
	for _, c := range counts {
		require.Empty(t, c.Successors)
	}
}

func TestAttributeReturnsNoAttributionWithoutLinearIDs(t *testing.T) {
	functions := address.NewMap()
	require.NoError(t, functions.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "caml_foo"))
	table := decode.NewTable(address.NewValueMap[decode.Location](), functions)

	g := fakeGraph{blocks: map[string][]cfg.Block{
		"caml_foo": {{Function: "caml_foo", Label: "b0", Start: 0x1000, End: 0x1010}},
	}}

	p, err := funcprofile.Build(table, map[uint64]uint64{0x1005: 1}, nil, nil)
	require.NoError(t, err)

	counts, malformed, err := cfg.Attribute(g, table, p, "caml_foo")
	require.NoError(t, err)
	require.Nil(t, counts)
	require.Equal(t, uint64(0), malformed)
}
