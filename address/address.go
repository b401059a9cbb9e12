// Package address provides a half-open interval map from machine addresses
// to the symbol (function name, compilation unit, whatever a caller wants to
// associate with a contiguous range of code) that owns them. It underlies
// both the object-file symbol table view and the decoded location table.
package address

import (
	"sort"

	"github.com/nandor/ocamlfdo/curated"
)

// Interval is a half-open range [Start, End) of machine addresses.
type Interval struct {
	Start uint64
	End   uint64
}

// Contains reports whether addr falls within iv.
func (iv Interval) Contains(addr uint64) bool {
	return addr >= iv.Start && addr < iv.End
}

// Size returns the number of addresses spanned by iv.
func (iv Interval) Size() uint64 {
	if iv.End <= iv.Start {
		return 0
	}
	return iv.End - iv.Start
}

// Overlaps reports whether iv and other share any address.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

type entry struct {
	interval Interval
	key      string
}

type byStart []entry

func (s byStart) Len() int           { return len(s) }
func (s byStart) Less(i, j int) bool { return s[i].interval.Start < s[j].interval.Start }
func (s byStart) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Map resolves addresses to keys over a set of non-overlapping intervals.
// The zero value is not useful; use NewMap.
type Map struct {
	entries []entry
	dirty   bool
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{}
}

// Insert associates iv with key. Insert returns a curated error if iv
// overlaps an interval already present in the map; half-open interval maps
// in this pipeline are expected to partition address space, not layer over
// it, so silently accepting an overlap would hide a genuinely ambiguous
// symbol table.
func (m *Map) Insert(iv Interval, key string) error {
	if iv.Size() == 0 {
		return nil
	}
	for _, e := range m.entries {
		if e.interval.Overlaps(iv) {
			return curated.Errorf(curated.FunctionBoundaryDrift, key, e.interval.Start, e.interval.End, iv.Start, iv.End)
		}
	}
	m.entries = append(m.entries, entry{interval: iv, key: key})
	m.dirty = true
	return nil
}

func (m *Map) ensureSorted() {
	if m.dirty {
		sort.Stable(byStart(m.entries))
		m.dirty = false
	}
}

// Lookup returns the key of the interval containing addr, and the offset of
// addr within that interval. ok is false if no interval contains addr.
func (m *Map) Lookup(addr uint64) (key string, offset uint64, ok bool) {
	m.ensureSorted()

	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].interval.Start > addr
	})
	if i == 0 {
		return "", 0, false
	}
	e := m.entries[i-1]
	if !e.interval.Contains(addr) {
		return "", 0, false
	}
	return e.key, addr - e.interval.Start, true
}

// IntervalAt returns the full interval containing addr.
func (m *Map) IntervalAt(addr uint64) (Interval, bool) {
	m.ensureSorted()

	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].interval.Start > addr
	})
	if i == 0 {
		return Interval{}, false
	}
	e := m.entries[i-1]
	if !e.interval.Contains(addr) {
		return Interval{}, false
	}
	return e.interval, true
}

// Len returns the number of intervals held by the map.
func (m *Map) Len() int {
	return len(m.entries)
}

// Intervals returns every (interval, key) pair held by the map, sorted by
// start address. The returned slice must not be mutated by the caller.
func (m *Map) Intervals() []struct {
	Interval Interval
	Key      string
} {
	m.ensureSorted()
	out := make([]struct {
		Interval Interval
		Key      string
	}, len(m.entries))
	for i, e := range m.entries {
		out[i].Interval = e.interval
		out[i].Key = e.key
	}
	return out
}

type valueEntry[T any] struct {
	interval Interval
	value    T
}

type byStartValue[T any] []valueEntry[T]

func (s byStartValue[T]) Len() int           { return len(s) }
func (s byStartValue[T]) Less(i, j int) bool { return s[i].interval.Start < s[j].interval.Start }
func (s byStartValue[T]) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// ValueMap is the generic counterpart of Map: it resolves addresses to an
// arbitrary payload rather than a string key. Used where the caller wants to
// attach a richer record (eg. decode's Location) to each interval without a
// second lookup table.
type ValueMap[T any] struct {
	entries []valueEntry[T]
	dirty   bool
}

// NewValueMap returns an empty ValueMap.
func NewValueMap[T any]() *ValueMap[T] {
	return &ValueMap[T]{}
}

// Insert associates iv with value, subject to the same overlap rule as
// Map.Insert.
func (m *ValueMap[T]) Insert(iv Interval, value T) error {
	if iv.Size() == 0 {
		return nil
	}
	for _, e := range m.entries {
		if e.interval.Overlaps(iv) {
			return curated.Errorf("address: overlapping interval [%#x, %#x) vs existing [%#x, %#x)", iv.Start, iv.End, e.interval.Start, e.interval.End)
		}
	}
	m.entries = append(m.entries, valueEntry[T]{interval: iv, value: value})
	m.dirty = true
	return nil
}

func (m *ValueMap[T]) ensureSorted() {
	if m.dirty {
		sort.Stable(byStartValue[T](m.entries))
		m.dirty = false
	}
}

// Lookup returns the value of the interval containing addr.
func (m *ValueMap[T]) Lookup(addr uint64) (value T, ok bool) {
	m.ensureSorted()

	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].interval.Start > addr
	})
	if i == 0 {
		var zero T
		return zero, false
	}
	e := m.entries[i-1]
	if !e.interval.Contains(addr) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Len returns the number of intervals held by the map.
func (m *ValueMap[T]) Len() int {
	return len(m.entries)
}

// Intervals returns every (interval, value) pair held by the map, sorted by
// start address. The returned slice must not be mutated by the caller.
func (m *ValueMap[T]) Intervals() []struct {
	Interval Interval
	Value    T
} {
	m.ensureSorted()
	out := make([]struct {
		Interval Interval
		Value    T
	}, len(m.entries))
	for i, e := range m.entries {
		out[i].Interval = e.interval
		out[i].Value = e.value
	}
	return out
}
