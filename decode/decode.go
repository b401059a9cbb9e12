// Package decode walks an object file's DWARF line tables and builds the
// address -> Location table that the rest of the pipeline uses to turn raw
// samples into source-level and function-relative attributions.
package decode

import (
	"debug/dwarf"
	"errors"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nandor/ocamlfdo/address"
	"github.com/nandor/ocamlfdo/curated"
	"github.com/nandor/ocamlfdo/digest"
	"github.com/nandor/ocamlfdo/logger"
	"github.com/nandor/ocamlfdo/objfile"
)

// Location is the decoded position of a single machine address: which
// function owns it, the function-relative offset, a dense id for that
// function, and, where DWARF line coverage exists, the source file/line and
// a linear-IR label that a caller-supplied CFG can use to find the owning
// basic block without ever seeing a raw address (see cfg.CfgWithLayout).
type Location struct {
	Function   string
	FunctionID int
	Offset     uint64

	File  string
	Line  int
	Label string
}

// Table maps machine addresses to Locations, and separately tracks the
// function symbol table's address ranges so that addresses with no line
// information still resolve to a function.
type Table struct {
	lines     *address.ValueMap[Location]
	functions *address.Map

	ids       map[string]int
	nextID    int
	linearIDs map[string]bool
}

// NewTable assembles a Table directly from a line map and a function symbol
// map. Decoder.Decode is the usual way to produce one; this constructor lets
// other packages build a Table from synthetic data in tests.
func NewTable(lines *address.ValueMap[Location], functions *address.Map) *Table {
	t := &Table{
		lines:     lines,
		functions: functions,
		ids:       make(map[string]int),
		linearIDs: make(map[string]bool),
	}
	for _, iv := range functions.Intervals() {
		t.functionID(iv.Key)
	}
	for _, e := range lines.Intervals() {
		if e.Value.Label != "" {
			t.linearIDs[e.Value.Function] = true
		}
	}
	return t
}

// functionID returns name's dense id, assigning the next free one the first
// time name is seen. Ids are assigned in first-sight order, not sorted
// order, matching the function table's natural discovery order during
// decode.
func (t *Table) functionID(name string) int {
	if id, ok := t.ids[name]; ok {
		return id
	}
	if t.ids == nil {
		t.ids = make(map[string]int)
	}
	id := t.nextID
	t.ids[name] = id
	t.nextID++
	return id
}

// FunctionID returns name's dense id and whether name has been seen at all.
func (t *Table) FunctionID(name string) (int, bool) {
	id, ok := t.ids[name]
	return id, ok
}

// HasLinearIDs reports whether any address of function carries a linear-IR
// label, ie. whether a caller-supplied CFG could plausibly be matched up
// against this function's samples at all.
func (t *Table) HasLinearIDs(function string) bool {
	return t.linearIDs[function]
}

// Lookup returns the decoded Location for addr. If addr falls within a known
// line-table entry, every field is populated. If addr only falls within a
// function symbol's range (no DWARF line coverage, eg. runtime support
// code), only Function/FunctionID/Offset are populated and ok is still true.
func (t *Table) Lookup(addr uint64) (Location, bool) {
	if loc, ok := t.lines.Lookup(addr); ok {
		return loc, true
	}
	if fn, offset, ok := t.functions.Lookup(addr); ok {
		fn = canonicalize(fn)
		return Location{Function: fn, FunctionID: t.functionID(fn), Offset: offset}, true
	}
	return Location{}, false
}

// Decoder builds a Table from an objfile.File, optionally checking function
// body digests against a registry as it goes.
type Decoder struct {
	obj     *objfile.File
	digests *digest.Registry
	log     *logger.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithDigests attaches a digest registry that function bodies are checked
// against (kind digest.Function) as their line ranges are assigned.
func WithDigests(r *digest.Registry) Option {
	return func(d *Decoder) { d.digests = r }
}

// WithLogger attaches a logger for non-fatal diagnostics. If omitted, the
// package-level default logger is used.
func WithLogger(l *logger.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// NewDecoder creates a Decoder for obj.
func NewDecoder(obj *objfile.File, opts ...Option) *Decoder {
	d := &Decoder{obj: obj}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Decoder) logf(format string, args ...interface{}) {
	if d.log != nil {
		d.log.Logf(logger.Allow, "decode", format, args...)
		return
	}
	logger.Logf(logger.Allow, "decode", format, args...)
}

// Decode walks every compilation unit's line table and returns the resulting
// Table.
func (d *Decoder) Decode() (*Table, error) {
	dw, err := d.obj.DWARF()
	if err != nil {
		return nil, err
	}

	t := &Table{
		lines:     address.NewValueMap[Location](),
		functions: d.obj.Functions(),
		ids:       make(map[string]int),
		linearIDs: make(map[string]bool),
	}
	for _, iv := range t.functions.Intervals() {
		t.functionID(iv.Key)
	}

	var ranges []lineRange

	reader := dw.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}

		lr, err := dw.LineReader(entry)
		if err != nil {
			return nil, err
		}
		if lr == nil {
			continue
		}

		unitRanges, err := d.decodeUnit(t, lr)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, unitRanges...)
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	for _, r := range ranges {
		if r.end <= r.start {
			continue
		}
		if err := t.lines.Insert(address.Interval{Start: r.start, End: r.end}, r.loc); err != nil {
			d.logf("dropping overlapping line range for %s at %#x", r.loc.Function, r.start)
			continue
		}
		t.linearIDs[r.loc.Function] = true
	}

	if d.digests != nil {
		if err := d.checkFunctionDigests(); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// checkFunctionDigests hashes every function symbol's code bytes and checks
// them against the attached digest registry, surfacing content drift before
// any sample is ever attributed against stale line information.
func (d *Decoder) checkFunctionDigests() error {
	for _, iv := range d.obj.Functions().Intervals() {
		code, err := d.obj.Code(iv.Interval)
		if err != nil {
			d.logf("no code bytes for %s, skipping digest check", iv.Key)
			continue
		}
		if _, err := d.digests.Check(digest.Function, iv.Key, code); err != nil {
			return err
		}
	}
	return nil
}

type lineRange struct {
	start, end uint64
	loc        Location
}

// decodeUnit walks one compilation unit's line entries into per-address
// ranges. The offset of each entry within its owning function is computed
// here (spec's addr2loc[a].rel.offset = a - functions[id].start) and
// rejected with curated.OffsetTooLarge if it would not fit a machine int -
// the only way that can happen is a corrupt or adversarial symbol table,
// since real function sizes never approach 2^63 bytes.
func (d *Decoder) decodeUnit(t *Table, lr *dwarf.LineReader) ([]lineRange, error) {
	var entries []dwarf.LineEntry
	for {
		var le dwarf.LineEntry
		err := lr.Next(&le)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		entries = append(entries, le)
	}

	var out []lineRange
	for i, le := range entries {
		if le.EndSequence {
			continue
		}

		fn, offset, ok := d.obj.Functions().Lookup(le.Address)
		if !ok {
			continue
		}
		fn = canonicalize(fn)
		if offset > math.MaxInt64 {
			iv, _ := d.obj.Functions().IntervalAt(le.Address)
			return nil, curated.Errorf(curated.OffsetTooLarge, fn, le.Address, iv.Start)
		}

		end := le.Address + 4
		if i+1 < len(entries) {
			end = entries[i+1].Address
		} else if iv, ok := d.obj.Functions().IntervalAt(le.Address); ok {
			end = iv.End
		}
		if end <= le.Address {
			continue
		}

		fname := ""
		if le.File != nil {
			fname = le.File.Name
		}

		out = append(out, lineRange{
			start: le.Address,
			end:   end,
			loc: Location{
				Function:   fn,
				FunctionID: t.functionID(fn),
				Offset:     offset,
				File:       fname,
				Line:       le.Line,
				Label:      strconv.Itoa(le.Line),
			},
		})
	}
	return out, nil
}

// canonicalize strips linker/compiler-added clone suffixes (".cold", ".part",
// ".constprop", ".isra" and everything after them) from a symbol name, so
// that the split or cloned parts of a function attribute back to the same
// logical function. Other suffixes, such as the "_NNN" of OCaml's
// "camlModule__function_NNN" symbols, are kept.
func canonicalize(name string) string {
	for _, suffix := range []string{".cold", ".part", ".constprop", ".isra"} {
		if i := strings.Index(name, suffix); i >= 0 {
			name = name[:i]
		}
	}
	return name
}
