package address_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nandor/ocamlfdo/address"
)

func TestLookupFindsContainingInterval(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "camlFoo_entry"))
	require.NoError(t, m.Insert(address.Interval{Start: 0x2000, End: 0x2100}, "camlBar_entry"))

	key, off, ok := m.Lookup(0x2050)
	require.True(t, ok)
	require.Equal(t, "camlBar_entry", key)
	require.Equal(t, uint64(0x50), off)
}

func TestLookupMissBeforeFirstInterval(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "camlFoo_entry"))

	_, _, ok := m.Lookup(0x500)
	require.False(t, ok)
}

func TestLookupMissInGap(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "a"))
	require.NoError(t, m.Insert(address.Interval{Start: 0x2000, End: 0x2010}, "b"))

	_, _, ok := m.Lookup(0x1500)
	require.False(t, ok)
}

func TestLookupEndIsExclusive(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "a"))

	_, _, ok := m.Lookup(0x1010)
	require.False(t, ok)

	key, off, ok := m.Lookup(0x100f)
	require.True(t, ok)
	require.Equal(t, "a", key)
	require.Equal(t, uint64(0xf), off)
}

func TestInsertOutOfOrderIsSortedOnLookup(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x2000, End: 0x2010}, "b"))
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "a"))

	key, _, ok := m.Lookup(0x1005)
	require.True(t, ok)
	require.Equal(t, "a", key)
}

func TestInsertOverlapFails(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "a"))

	err := m.Insert(address.Interval{Start: 0x1008, End: 0x1020}, "b")
	require.Error(t, err)
}

func TestInsertZeroSizeIntervalIsIgnored(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1000}, "a"))
	require.Equal(t, 0, m.Len())
}

func TestIntervalsSortedByStart(t *testing.T) {
	m := address.NewMap()
	require.NoError(t, m.Insert(address.Interval{Start: 0x2000, End: 0x2010}, "b"))
	require.NoError(t, m.Insert(address.Interval{Start: 0x1000, End: 0x1010}, "a"))

	ivs := m.Intervals()
	require.Len(t, ivs, 2)
	require.Equal(t, "a", ivs[0].Key)
	require.Equal(t, "b", ivs[1].Key)
}
