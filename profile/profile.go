// Package profile is the persisted, decoded profile: per-function self
// samples, the caller graph, and per-block counts, plus enough metadata
// (format version, build-id) to detect an incompatible reader/writer pair or
// a profile being merged against the wrong binary. Two on-disk forms are
// supported: a human-readable text form for inspection/diffing, and a
// versioned binary form (encoding/gob) for fast round-tripping between tool
// invocations.
package profile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/nandor/ocamlfdo/curated"
	"github.com/nandor/ocamlfdo/funcprofile"
)

// CurrentVersion is the format version this build reads and writes.
const CurrentVersion = 1

// binaryMagic tags the start of the binary encoding, so that a file of the
// wrong type is rejected before gob ever sees it.
const binaryMagic = "OCFP"

// BlockSample is one basic block's attributed counts, persisted independent
// of any particular in-memory CFG representation.
type BlockSample struct {
	Start   uint64
	End     uint64
	Samples uint64
	Taken   uint64
}

// Profile is the complete decoded, persistable profile for one binary.
type Profile struct {
	Version int
	BuildID string

	Self       map[string]uint64
	FunctionID map[string]int
	Callers    map[string]map[string]uint64
	Blocks     map[string][]BlockSample
}

// New returns an empty Profile for buildID, stamped with CurrentVersion.
func New(buildID string) *Profile {
	return &Profile{
		Version:    CurrentVersion,
		BuildID:    buildID,
		Self:       make(map[string]uint64),
		FunctionID: make(map[string]int),
		Callers:    make(map[string]map[string]uint64),
		Blocks:     make(map[string][]BlockSample),
	}
}

// FromFuncProfile copies fp's self/id/caller counts into a new Profile
// tagged with buildID. Block-level counts, if any, must be added separately
// with SetBlocks.
func FromFuncProfile(fp *funcprofile.Profile, buildID string) *Profile {
	p := New(buildID)
	for fn, n := range fp.Self {
		p.Self[fn] = n
	}
	for fn, id := range fp.FunctionID {
		p.FunctionID[fn] = id
	}
	for callee, callers := range fp.Callers {
		cp := make(map[string]uint64, len(callers))
		for caller, n := range callers {
			cp[caller] = n
		}
		p.Callers[callee] = cp
	}
	return p
}

// SetBlocks records the per-block counts for function.
func (p *Profile) SetBlocks(function string, blocks []BlockSample) {
	p.Blocks[function] = blocks
}

// WriteText writes p in the human-readable line-oriented format:
//
//	version <n>
//	build-id <id>
//	function <name> <id> self <n>
//	caller <callee> <caller> <n>
//	block <function> <start-hex> <end-hex> <samples> <taken>
//
// Functions and callers are emitted sorted by name, and each function's
// blocks in the order they are stored, so that two writes of an unchanged
// Profile produce byte-identical output.
func (p *Profile) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "version %d\n", p.Version)
	fmt.Fprintf(bw, "build-id %s\n", p.BuildID)

	for _, fn := range sortedKeys(p.Self) {
		fmt.Fprintf(bw, "function %s %d self %d\n", fn, p.FunctionID[fn], p.Self[fn])
	}

	for _, callee := range sortedMapKeys(p.Callers) {
		for _, caller := range sortedKeys(p.Callers[callee]) {
			fmt.Fprintf(bw, "caller %s %s %d\n", callee, caller, p.Callers[callee][caller])
		}
	}

	for _, fn := range sortedBlockKeys(p.Blocks) {
		for _, b := range p.Blocks[fn] {
			fmt.Fprintf(bw, "block %s %#x %#x %d %d\n", fn, b.Start, b.End, b.Samples, b.Taken)
		}
	}

	return bw.Flush()
}

// ReadText parses the format written by WriteText.
func ReadText(r io.Reader) (*Profile, error) {
	p := New("")
	scan := bufio.NewScanner(r)

	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "version":
			if len(fields) != 2 {
				return nil, malformed(line)
			}
			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, malformed(line)
			}
			p.Version = v

		case "build-id":
			if len(fields) != 2 {
				return nil, malformed(line)
			}
			p.BuildID = fields[1]

		case "function":
			if len(fields) != 5 || fields[3] != "self" {
				return nil, malformed(line)
			}
			id, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, malformed(line)
			}
			n, err := strconv.ParseUint(fields[4], 10, 64)
			if err != nil {
				return nil, malformed(line)
			}
			p.Self[fields[1]] = n
			p.FunctionID[fields[1]] = id

		case "caller":
			if len(fields) != 4 {
				return nil, malformed(line)
			}
			n, err := strconv.ParseUint(fields[3], 10, 64)
			if err != nil {
				return nil, malformed(line)
			}
			callee, caller := fields[1], fields[2]
			if p.Callers[callee] == nil {
				p.Callers[callee] = make(map[string]uint64)
			}
			p.Callers[callee][caller] = n

		case "block":
			if len(fields) != 6 {
				return nil, malformed(line)
			}
			start, err1 := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
			end, err2 := strconv.ParseUint(strings.TrimPrefix(fields[3], "0x"), 16, 64)
			samples, err3 := strconv.ParseUint(fields[4], 10, 64)
			taken, err4 := strconv.ParseUint(fields[5], 10, 64)
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
				return nil, malformed(line)
			}
			fn := fields[1]
			p.Blocks[fn] = append(p.Blocks[fn], BlockSample{Start: start, End: end, Samples: samples, Taken: taken})

		default:
			return nil, malformed(line)
		}
	}

	if err := scan.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

func malformed(line string) error {
	return curated.Errorf("profile: malformed text record: %q", line)
}

// gobProfile is the wire shape gob encodes; kept distinct from Profile so
// that a future field added to Profile doesn't silently change the binary
// format without a version bump decision being made explicitly.
type gobProfile struct {
	Version    int
	BuildID    string
	Self       map[string]uint64
	FunctionID map[string]int
	Callers    map[string]map[string]uint64
	Blocks     map[string][]BlockSample
}

// WriteBinary writes p's gob-encoded form, preceded by a 4-byte magic and a
// big-endian uint32 format version.
func (p *Profile) WriteBinary(w io.Writer) error {
	if _, err := w.Write([]byte(binaryMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(p.Version)); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(gobProfile{
		Version:    p.Version,
		BuildID:    p.BuildID,
		Self:       p.Self,
		FunctionID: p.FunctionID,
		Callers:    p.Callers,
		Blocks:     p.Blocks,
	}); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// ReadBinary parses the format written by WriteBinary. It rejects a profile
// whose version does not match CurrentVersion; this pipeline does not
// attempt to upconvert older binary profiles, callers needing that should
// keep the writer and reader in lockstep.
func ReadBinary(r io.Reader) (*Profile, error) {
	magic := make([]byte, len(binaryMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != binaryMagic {
		return nil, curated.Errorf("profile: not a binary profile (bad magic)")
	}

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if int(version) != CurrentVersion {
		return nil, curated.Errorf(curated.IncompatibleVersion, version, CurrentVersion)
	}

	var g gobProfile
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&g); err != nil {
		return nil, err
	}

	// gob omits empty maps, so a nil map here stands for an empty one.
	p := New(g.BuildID)
	p.Version = g.Version
	if g.Self != nil {
		p.Self = g.Self
	}
	if g.FunctionID != nil {
		p.FunctionID = g.FunctionID
	}
	if g.Callers != nil {
		p.Callers = g.Callers
	}
	if g.Blocks != nil {
		p.Blocks = g.Blocks
	}
	return p, nil
}

// Merge combines a and b into a new Profile with summed counts. Unless
// ignoreBuildID is set, two different non-empty build-ids are rejected;
// merging profiles from different binaries without acknowledging it would
// silently blend unrelated code. A profile with no build-id merges with any
// other, and the result carries whichever build-id is non-empty (a's first).
func Merge(a, b *Profile, ignoreBuildID bool) (*Profile, error) {
	if !ignoreBuildID && a.BuildID != "" && b.BuildID != "" && a.BuildID != b.BuildID {
		return nil, curated.Errorf(curated.BuildidMismatch, a.BuildID, b.BuildID)
	}

	buildID := a.BuildID
	if buildID == "" {
		buildID = b.BuildID
	}

	out := New(buildID)
	out.Version = a.Version

	for _, self := range []map[string]uint64{a.Self, b.Self} {
		for fn, n := range self {
			out.Self[fn] += n
		}
	}

	for _, ids := range []map[string]int{a.FunctionID, b.FunctionID} {
		for fn, id := range ids {
			if _, ok := out.FunctionID[fn]; !ok {
				out.FunctionID[fn] = id
			}
		}
	}

	for _, callers := range []map[string]map[string]uint64{a.Callers, b.Callers} {
		for callee, m := range callers {
			if out.Callers[callee] == nil {
				out.Callers[callee] = make(map[string]uint64)
			}
			for caller, n := range m {
				out.Callers[callee][caller] += n
			}
		}
	}

	blockIndex := make(map[string]map[uint64]int)
	merge := func(blocks map[string][]BlockSample) {
		for fn, bs := range blocks {
			if blockIndex[fn] == nil {
				blockIndex[fn] = make(map[uint64]int)
			}
			for _, b := range bs {
				if i, ok := blockIndex[fn][b.Start]; ok {
					out.Blocks[fn][i].Samples += b.Samples
					out.Blocks[fn][i].Taken += b.Taken
					continue
				}
				blockIndex[fn][b.Start] = len(out.Blocks[fn])
				out.Blocks[fn] = append(out.Blocks[fn], b)
			}
		}
	}
	merge(a.Blocks)
	merge(b.Blocks)

	return out, nil
}

func sortedKeys(m map[string]uint64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedMapKeys(m map[string]map[string]uint64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedBlockKeys(m map[string][]BlockSample) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
