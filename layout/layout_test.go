package layout_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nandor/ocamlfdo/layout"
)

func TestOrderBySamplesDescending(t *testing.T) {
	self := map[string]uint64{"a": 5, "b": 20, "c": 10}
	order := layout.OrderBySamples(self, nil, nil)
	require.Equal(t, []string{"b", "c", "a"}, order)
}

func TestOrderBySamplesHonorsKeepSet(t *testing.T) {
	self := map[string]uint64{"a": 5, "b": 20, "c": 10}
	order := layout.OrderBySamples(self, nil, map[string]bool{"a": true, "c": true})
	require.Equal(t, []string{"c", "a"}, order)
}

func TestOrderBySamplesTiesByAscendingFunctionID(t *testing.T) {
	self := map[string]uint64{"b": 5, "a": 5}
	ids := map[string]int{"b": 0, "a": 1}
	order := layout.OrderBySamples(self, ids, nil)
	// "b" was discovered first (id 0) even though "a" sorts first by name.
	require.Equal(t, []string{"b", "a"}, order)
}

func TestOrderBySamplesFallsBackToNameWithoutIDs(t *testing.T) {
	self := map[string]uint64{"b": 5, "a": 5}
	order := layout.OrderBySamples(self, nil, nil)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestOrderBySamplesFunctionsMissingIDsSortLast(t *testing.T) {
	self := map[string]uint64{"known": 5, "synthetic": 5}
	ids := map[string]int{"known": 3}
	order := layout.OrderBySamples(self, ids, nil)
	require.Equal(t, []string{"known", "synthetic"}, order)
}

func TestEmitWritesSectionPerLine(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, layout.Emit(&buf, []string{"camlFoo_entry", "camlBar_entry"}))
	require.Equal(t, ".text.camlFoo_entry\n.text.camlBar_entry\n", buf.String())
}
