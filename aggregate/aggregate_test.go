package aggregate_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nandor/ocamlfdo/aggregate"
	"github.com/nandor/ocamlfdo/rawsample"
)

func TestSingleBranchSample(t *testing.T) {
	a := aggregate.NewAggregator(aggregate.Saturate, nil)

	require.NoError(t, a.Add(rawsample.Sample{
		IP: 0x400500,
		Branches: []rawsample.Branch{
			{From: 0x400480, To: 0x400500, Mispredict: false},
		},
	}))

	require.Equal(t, uint64(1), a.Instructions()[0x400500])

	edge := aggregate.Edge{From: 0x400480, To: 0x400500}
	require.Equal(t, uint64(1), a.Branches()[edge].Taken)
	require.Equal(t, uint64(0), a.Branches()[edge].Mispredicts)
	require.Empty(t, a.Traces())
}

func TestTwoBranchSampleReversesToChronologicalOrder(t *testing.T) {
	a := aggregate.NewAggregator(aggregate.Saturate, nil)

	// hardware order (most recent first): 0x400600->0x400480 (M), then
	// 0x400490->0x400600. Reader reverses this before Add sees it, so
	// Branches here is already chronological.
	require.NoError(t, a.Add(rawsample.Sample{
		IP: 0x400700,
		Branches: []rawsample.Branch{
			{From: 0x400490, To: 0x400600, Mispredict: false},
			{From: 0x400600, To: 0x400480, Mispredict: true},
		},
	}))

	b1 := aggregate.Edge{From: 0x400490, To: 0x400600}
	b2 := aggregate.Edge{From: 0x400600, To: 0x400480}
	require.Equal(t, uint64(1), a.Branches()[b1].Taken)
	require.Equal(t, uint64(1), a.Branches()[b2].Taken)
	require.Equal(t, uint64(1), a.Branches()[b2].Mispredicts)

	// fall-through from the first branch's target (0x400600) to the
	// second branch's source (0x400600): prev.To >= cur.From, so this is
	// a malformed (degenerate) trace and is not recorded.
	require.Empty(t, a.Traces())
}

func TestValidFallThroughIsRecordedAsATrace(t *testing.T) {
	a := aggregate.NewAggregator(aggregate.Saturate, nil)

	require.NoError(t, a.Add(rawsample.Sample{
		IP: 0x1000,
		Branches: []rawsample.Branch{
			{From: 0x100, To: 0x200},
			{From: 0x300, To: 0x400},
		},
	}))

	traces := a.Traces()
	require.Equal(t, uint64(1), traces[aggregate.Edge{From: 0x200, To: 0x300}])
}

func TestDuplicateLastLBREntryIsIgnored(t *testing.T) {
	a := aggregate.NewAggregator(aggregate.Saturate, nil)

	require.NoError(t, a.Add(rawsample.Sample{
		IP: 0x1000,
		Branches: []rawsample.Branch{
			{From: 0x100, To: 0x200},
			{From: 0x100, To: 0x200},
		},
	}))

	edge := aggregate.Edge{From: 0x100, To: 0x200}
	// the duplicate tail entry contributes nothing: only the first of
	// the pair is counted.
	require.Equal(t, uint64(1), a.Branches()[edge].Taken)
}

func TestSaturatePolicyClampsAtMax(t *testing.T) {
	a := aggregate.NewAggregator(aggregate.Saturate, nil)

	s := rawsample.Sample{IP: 1}
	require.NoError(t, a.Add(s))

	instr := a.Instructions()
	instr[1] = math.MaxUint64
	require.NoError(t, a.Add(s))
	require.Equal(t, uint64(math.MaxUint64), a.Instructions()[1])
}

func TestErrorPolicyReturnsErrorOnOverflow(t *testing.T) {
	a := aggregate.NewAggregator(aggregate.Error, nil)

	s := rawsample.Sample{IP: 1}
	a.Instructions()[1] = math.MaxUint64

	require.Error(t, a.Add(s))
}

func TestTracesAccumulateAcrossSamples(t *testing.T) {
	a := aggregate.NewAggregator(aggregate.Saturate, nil)

	sample := rawsample.Sample{
		IP: 0x1000,
		Branches: []rawsample.Branch{
			{From: 0x100, To: 0x200},
			{From: 0x300, To: 0x400},
		},
	}
	require.NoError(t, a.Add(sample))
	require.NoError(t, a.Add(sample))

	traces := a.Traces()
	require.Len(t, traces, 1)
	require.Equal(t, uint64(2), traces[aggregate.Edge{From: 0x200, To: 0x300}])
}
