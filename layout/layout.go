// Package layout emits the hot-functions fragment consumed by a linker
// script's section-ordering directive: one per-function text section name
// per line, hottest first, so that a subsequent build places the profile's
// hot functions next to each other in the final binary. This package only
// writes the fragment; splicing it into a full linker script is outside
// its concern.
package layout

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// sectionPrefix matches the ".text.<function>" convention the rest of the
// native toolchain uses to give every function its own linker section, so
// that section ordering can actually take effect.
const sectionPrefix = ".text."

// OrderBySamples ranks the functions named in keep by descending self
// sample count, breaking ties by ascending function id - the id a function
// was first discovered under during decode, not its name - for
// determinism. Functions in self that keep does not mention are omitted. A
// nil keep set is taken to mean "keep everything in self". A function with
// no entry in ids (eg. one synthesized outside the normal decode path) sorts
// after every function that has one, then falls back to name order among
// itself.
func OrderBySamples(self map[string]uint64, ids map[string]int, keep map[string]bool) []string {
	names := make([]string, 0, len(self))
	for name := range self {
		if keep != nil && !keep[name] {
			continue
		}
		names = append(names, name)
	}
	id := func(name string) (int, bool) {
		v, ok := ids[name]
		return v, ok
	}
	sort.Slice(names, func(i, j int) bool {
		if self[names[i]] != self[names[j]] {
			return self[names[i]] > self[names[j]]
		}
		idI, okI := id(names[i])
		idJ, okJ := id(names[j])
		switch {
		case okI && okJ:
			return idI < idJ
		case okI != okJ:
			return okI
		default:
			return names[i] < names[j]
		}
	})
	return names
}

// Emit writes one ".text.<function>" line per entry in order, hottest
// first. The caller is expected to have already ranked and trimmed order
// (see OrderBySamples and the trim package).
func Emit(w io.Writer, order []string) error {
	bw := bufio.NewWriter(w)
	for _, name := range order {
		if _, err := fmt.Fprintf(bw, "%s%s\n", sectionPrefix, name); err != nil {
			return err
		}
	}
	return bw.Flush()
}
