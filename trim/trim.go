// Package trim implements the predicates used to restrict a profile to its
// hot subset before it is handed to the layout emitter: keep the top N
// functions by weight, keep the top N percent of functions, keep whatever
// smallest prefix of functions accounts for N percent of total samples, or
// keep everything above a minimum sample count.
package trim

import "sort"

// Entry is one named, weighted item a predicate ranks - typically a
// function name and its self sample count.
type Entry struct {
	Name   string
	Weight uint64
}

// FromCounts converts a name->weight map into a slice of Entry, sorted by
// descending weight (ties broken by name for determinism).
func FromCounts(counts map[string]uint64) []Entry {
	out := make([]Entry, 0, len(counts))
	for name, w := range counts {
		out = append(out, Entry{Name: name, Weight: w})
	}
	sortDescending(out)
	return out
}

func sortDescending(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Weight != entries[j].Weight {
			return entries[i].Weight > entries[j].Weight
		}
		return entries[i].Name < entries[j].Name
	})
}

func keepSet(entries []Entry) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name] = true
	}
	return out
}

// Top keeps the n highest-weighted entries. entries need not be
// pre-sorted; Top sorts its own copy.
func Top(entries []Entry, n int) map[string]bool {
	if n < 0 {
		n = 0
	}
	sorted := append([]Entry(nil), entries...)
	sortDescending(sorted)
	if n > len(sorted) {
		n = len(sorted)
	}
	return keepSet(sorted[:n])
}

// TopPercent keeps the highest-weighted ceil(percent/100 * len(entries))
// entries, by count of entries rather than by their share of total weight.
func TopPercent(entries []Entry, percent float64) map[string]bool {
	if percent <= 0 {
		return map[string]bool{}
	}
	if percent >= 100 {
		return keepSet(entries)
	}
	n := int((percent/100.0)*float64(len(entries)) + 0.9999999)
	return Top(entries, n)
}

// TopPercentSamples keeps the smallest prefix of entries, ranked by
// descending weight, whose cumulative weight reaches at least percent
// percent of the total weight across all entries. This is the predicate
// that actually answers "which functions make up the hot 99% of runtime",
// as distinct from TopPercent's "which functions are in the hot 99% of the
// function count".
func TopPercentSamples(entries []Entry, percent float64) map[string]bool {
	if percent <= 0 {
		return map[string]bool{}
	}

	sorted := append([]Entry(nil), entries...)
	sortDescending(sorted)

	var total uint64
	for _, e := range sorted {
		total += e.Weight
	}
	if total == 0 {
		return map[string]bool{}
	}
	if percent >= 100 {
		return keepSet(sorted)
	}

	target := percent / 100.0 * float64(total)

	var cumulative uint64
	kept := make(map[string]bool)
	for _, e := range sorted {
		if float64(cumulative) >= target {
			break
		}
		kept[e.Name] = true
		cumulative += e.Weight
	}
	return kept
}

// MinSamples keeps every entry whose weight is at least k.
func MinSamples(entries []Entry, k uint64) map[string]bool {
	kept := make(map[string]bool)
	for _, e := range entries {
		if e.Weight >= k {
			kept[e.Name] = true
		}
	}
	return kept
}
