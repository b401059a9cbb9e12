// Package rawsample parses the line-oriented text stream emitted by an
// external LBR sampler: one line per PMU interrupt, carrying the pid, the
// interrupted instruction pointer, and the chain of last branches the
// hardware recorded leading up to it.
package rawsample

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/nandor/ocamlfdo/curated"
)

// Branch is a single entry in a sample's last-branch-record chain.
type Branch struct {
	From       uint64
	To         uint64
	Mispredict bool

	// StackIndex is the entry's position in the hardware's own record
	// order, 0 being the most recently taken branch. Reader reverses
	// this order before returning a Sample, so StackIndex descends as
	// Sample.Branches is walked.
	StackIndex int
}

// Sample is one PMU interrupt: the interrupted instruction pointer plus the
// LBR chain leading up to it, oldest branch first (chronological order).
type Sample struct {
	PID      uint64
	IP       uint64
	Branches []Branch
}

// Reader parses samples one at a time from an underlying text stream.
type Reader struct {
	scan    *bufio.Scanner
	line    int
	allowed map[uint64]bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithPIDFilter restricts Next to samples whose pid is in allowed; samples
// for any other pid are skipped. A nil or empty allowed accepts every pid.
func WithPIDFilter(allowed map[uint64]bool) Option {
	return func(r *Reader) { r.allowed = allowed }
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	rd := &Reader{scan: s}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Next parses and returns the next Sample in the stream, skipping blank
// lines and any sample excluded by the pid filter. It returns io.EOF once
// the stream is exhausted.
//
// Each non-empty line holds whitespace-separated tokens: a decimal pid, a
// hex instruction pointer (with or without a "0x" prefix), followed by zero
// or more branch tokens of the form "from/to/M|P|-/X|-/A|-/cycles", most
// recent branch first. Next reverses the branch tokens so Sample.Branches
// reads oldest-to-newest.
func (r *Reader) Next() (Sample, error) {
	for r.scan.Scan() {
		r.line++
		line := strings.TrimSpace(r.scan.Text())
		if line == "" {
			continue
		}

		s, err := r.parseLine(line)
		if err != nil {
			return Sample{}, err
		}
		if len(r.allowed) > 0 && !r.allowed[s.PID] {
			continue
		}
		return s, nil
	}

	if err := r.scan.Err(); err != nil {
		return Sample{}, err
	}
	return Sample{}, io.EOF
}

func (r *Reader) parseLine(line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Sample{}, curated.Errorf(curated.BadSampleFormat, r.line, line)
	}

	pid, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Sample{}, curated.Errorf(curated.BadSampleFormat, r.line, line)
	}

	ip, err := parseHex(fields[1])
	if err != nil {
		return Sample{}, curated.Errorf(curated.BadSampleFormat, r.line, line)
	}

	s := Sample{PID: pid, IP: ip}
	for i, tok := range fields[2:] {
		b, err := parseBranch(tok, i)
		if err != nil {
			return Sample{}, curated.Errorf(curated.BadSampleFormat, r.line, line)
		}
		s.Branches = append(s.Branches, b)
	}

	// tokens arrive most-recent-first; reverse so Branches reads
	// chronologically, which is how the aggregator wants to walk them.
	for i, j := 0, len(s.Branches)-1; i < j; i, j = i+1, j-1 {
		s.Branches[i], s.Branches[j] = s.Branches[j], s.Branches[i]
	}

	return s, nil
}

// parseBranch parses one "from/to/mispredict/flag/flag/cycles" token.
// The two single-letter flag fields (in-transaction, tsx-abort) are
// validated against their permitted alphabets and otherwise ignored, as is
// the cycle count: the format requires them to be present and well-formed,
// but this pipeline has no use for their values.
func parseBranch(tok string, stackIndex int) (Branch, error) {
	fields := strings.Split(tok, "/")
	if len(fields) != 6 {
		return Branch{}, curated.Errorf("rawsample: expected 6 slash-separated fields, got %d", len(fields))
	}

	from, err := parseHex(fields[0])
	if err != nil {
		return Branch{}, err
	}
	to, err := parseHex(fields[1])
	if err != nil {
		return Branch{}, err
	}

	mispredict, err := parseMispredict(fields[2])
	if err != nil {
		return Branch{}, err
	}
	if !isOneOf(fields[3], "X", "-") || !isOneOf(fields[4], "A", "-") {
		return Branch{}, curated.Errorf("rawsample: flag field out of range: %q", tok)
	}
	if _, err := strconv.ParseUint(fields[5], 10, 32); err != nil {
		return Branch{}, curated.Errorf("rawsample: bad cycle count: %q", fields[5])
	}

	return Branch{From: from, To: to, Mispredict: mispredict, StackIndex: stackIndex}, nil
}

func parseMispredict(f string) (bool, error) {
	switch f {
	case "M":
		return true, nil
	case "P", "-":
		return false, nil
	default:
		return false, curated.Errorf("rawsample: bad mispredict flag: %q", f)
	}
}

func isOneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, curated.Errorf("rawsample: bad hex address %q", s)
	}
	return v, nil
}
