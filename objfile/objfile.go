// Package objfile is a thin façade over debug/elf and debug/dwarf: it opens
// the compiled native object, exposes its function symbol table as an
// address.Map, and hands back the raw *dwarf.Data for the decoder to walk
// line tables from. Everything else about the ELF file (sections, segments,
// relocations) is outside of this pipeline's concern and is left untouched.
package objfile

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"

	"github.com/nandor/ocamlfdo/address"
	"github.com/nandor/ocamlfdo/curated"
)

// File wraps an opened ELF object together with the function symbol table
// derived from it.
type File struct {
	ef        *elf.File
	functions *address.Map
	buildID   string
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	ignoreLocalDup bool
}

// WithIgnoreLocalDup makes Open silently keep the first of two function
// symbols found at overlapping addresses instead of failing; without this
// option such an overlap makes Open fail. Symbols are not compared by name:
// two symbols with the same name at disjoint addresses are both indexed,
// with or without this option.
func WithIgnoreLocalDup(v bool) Option {
	return func(o *openOptions) { o.ignoreLocalDup = v }
}

// Open opens path as an ELF file and indexes its function symbols. The
// caller must call Close when done.
func Open(path string, opts ...Option) (*File, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}

	f := &File{ef: ef, functions: address.NewMap()}

	syms, err := ef.Symbols()
	if err != nil {
		// a stripped binary has no symbol table; that's a configuration
		// problem for the caller to detect (Functions() will be empty),
		// not a reason to fail opening the file.
		syms = nil
	}

	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		if sym.Size == 0 {
			continue
		}
		iv := address.Interval{Start: sym.Value, End: sym.Value + sym.Size}
		if ierr := f.functions.Insert(iv, sym.Name); ierr != nil {
			if o.ignoreLocalDup {
				continue
			}
			ef.Close()
			return nil, ierr
		}
	}

	f.buildID = readBuildID(ef)

	return f, nil
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	return f.ef.Close()
}

// Functions returns the address map of function symbols found in the
// object's symbol table.
func (f *File) Functions() *address.Map {
	return f.functions
}

// DWARF returns the object's debug info, or an error if it carries none.
func (f *File) DWARF() (*dwarf.Data, error) {
	d, err := f.ef.DWARF()
	if err != nil {
		return nil, curated.Errorf("objfile: no debug info: %v", err)
	}
	return d, nil
}

// ByteOrder returns the object's byte order, needed by callers that must
// reinterpret raw bytes read alongside DWARF data.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.ef.ByteOrder
}

// Code returns the raw bytes of iv, read from whichever executable section
// contains it. Used to compute function-body digests.
func (f *File) Code(iv address.Interval) ([]byte, error) {
	for _, sec := range f.ef.Sections {
		if sec.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		secEnd := sec.Addr + sec.Size
		if iv.Start >= sec.Addr && iv.End <= secEnd {
			data, err := sec.Data()
			if err != nil {
				return nil, err
			}
			off := iv.Start - sec.Addr
			return data[off : off+iv.Size()], nil
		}
	}
	return nil, curated.Errorf("objfile: no section covers [%#x, %#x)", iv.Start, iv.End)
}

// BuildID returns the object's ELF build-id, or the empty string if it
// carries none. Used by the profile merger to flag samples being combined
// across what appear to be different binaries.
func (f *File) BuildID() string {
	return f.buildID
}

func readBuildID(ef *elf.File) string {
	sec := ef.Section(".note.gnu.build-id")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil {
		return ""
	}
	return parseBuildIDNote(data, ef.ByteOrder)
}

// parseBuildIDNote extracts the descriptor bytes from a single ELF note and
// hex-encodes them. The note format is namesz, descsz, type (4 bytes each,
// in order), the name padded to a 4-byte boundary, then the descriptor.
// GNU build-id notes use name "GNU\x00" and a descriptor holding the id.
func parseBuildIDNote(data []byte, order binary.ByteOrder) string {
	if len(data) < 12 {
		return ""
	}

	namesz := order.Uint32(data[0:4])
	descsz := order.Uint32(data[4:8])

	nameStart := 12
	nameEnd := nameStart + int(namesz)
	if nameEnd > len(data) {
		return ""
	}
	descStart := align4(nameEnd)
	descEnd := descStart + int(descsz)
	if descEnd > len(data) || descEnd < descStart {
		return ""
	}

	return hex.EncodeToString(data[descStart:descEnd])
}

func align4(n int) int {
	return (n + 3) &^ 3
}
