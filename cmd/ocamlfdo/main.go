// Command ocamlfdo drives the profile decoding and attribution pipeline:
// it turns a raw LBR sample stream plus the sampled ELF binary into a
// decoded profile, and a decoded profile into a hot-functions linker
// fragment. Flag parsing and subcommand dispatch live here and nowhere
// else; every decision of substance is made by the library packages this
// command only wires together.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nandor/ocamlfdo/aggregate"
	"github.com/nandor/ocamlfdo/cfg"
	"github.com/nandor/ocamlfdo/config"
	"github.com/nandor/ocamlfdo/curated"
	"github.com/nandor/ocamlfdo/decode"
	"github.com/nandor/ocamlfdo/funcprofile"
	"github.com/nandor/ocamlfdo/layout"
	"github.com/nandor/ocamlfdo/logger"
	"github.com/nandor/ocamlfdo/objfile"
	"github.com/nandor/ocamlfdo/profile"
	"github.com/nandor/ocamlfdo/rawsample"
	"github.com/nandor/ocamlfdo/trim"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "decode":
		err = runDecode(os.Args[2:])
	case "merge":
		err = runMerge(os.Args[2:])
	case "trim":
		err = runTrim(os.Args[2:])
	case "layout":
		err = runLayout(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "ocamlfdo:", err)
		logger.Tail(os.Stderr, 50)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ocamlfdo <decode|merge|trim|layout> [flags]")
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	binPath := fs.String("bin", "", "path to the sampled ELF binary")
	samplePath := fs.String("samples", "", "path to the raw LBR sample stream")
	cfgPath := fs.String("cfg", "", "path to a JSON CFG file for block-level attribution (optional)")
	outPath := fs.String("out", "-", "path to write the decoded profile (text form)")
	ignoreLocalDup := fs.Bool("ignore-local-dup", false, "coalesce duplicate local symbols instead of failing")
	overflow := fs.String("overflow", "saturate", "counter overflow policy: saturate|error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var policy aggregate.OverflowPolicy
	switch *overflow {
	case "saturate":
		policy = aggregate.Saturate
	case "error":
		policy = aggregate.Error
	default:
		return fmt.Errorf("ocamlfdo: unknown -overflow %q", *overflow)
	}

	cfgConf, err := config.New(
		config.WithIgnoreLocalDup(*ignoreLocalDup),
		config.WithOverflow(policy),
	)
	if err != nil {
		return err
	}

	obj, err := objfile.Open(*binPath, objfile.WithIgnoreLocalDup(cfgConf.IgnoreLocalDup))
	if err != nil {
		return err
	}
	defer obj.Close()

	f, err := os.Open(*samplePath)
	if err != nil {
		return err
	}
	defer f.Close()

	agg := aggregate.NewAggregator(cfgConf.Overflow, nil)
	r := rawsample.NewReader(f)
	ignored := 0
	for {
		s, err := r.Next()
		if err == io.EOF {
			break
		}
		if curated.Is(err, curated.BadSampleFormat) {
			ignored++
			logger.Logf(logger.Allow, "rawsample", "%v", err)
			continue
		}
		if err != nil {
			return err
		}
		if err := agg.Add(s); err != nil {
			return err
		}
	}
	if ignored > 0 {
		logger.Logf(logger.Allow, "rawsample", "%d malformed sample lines ignored", ignored)
	}

	dec := decode.NewDecoder(obj)
	table, err := dec.Decode()
	if err != nil {
		return err
	}

	fp, err := funcprofile.Build(table, agg.Instructions(), agg.Branches(), agg.Traces())
	if err != nil {
		return err
	}
	out := profile.FromFuncProfile(fp, obj.BuildID())

	if *cfgPath != "" {
		if err := attributeBlocks(*cfgPath, table, fp, out); err != nil {
			return err
		}
	}

	w := os.Stdout
	if *outPath != "-" {
		file, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	return out.WriteText(w)
}

// attributeBlocks loads the CFG at path and attributes every function that
// carries self samples down to block granularity, recording the result on
// out. Total malformed-trace count across every attributed function is
// logged rather than surfaced as an error: a CFG that cannot explain every
// trace in a function does not invalidate the rest of the decode.
func attributeBlocks(path string, table *decode.Table, fp *funcprofile.Profile, out *profile.Profile) error {
	g, err := loadCFG(path)
	if err != nil {
		return err
	}

	var totalMalformed uint64
	for _, fn := range fp.Functions() {
		counts, malformed, err := cfg.Attribute(g, table, fp, fn)
		if err != nil {
			return err
		}
		totalMalformed += malformed
		if counts == nil {
			continue
		}

		blocks := make([]profile.BlockSample, 0, len(counts))
		for _, bc := range counts {
			var taken uint64
			for _, succ := range bc.Successors {
				taken += succ.Taken
			}
			for _, n := range bc.Calls {
				taken += n
			}
			blocks = append(blocks, profile.BlockSample{
				Start:   bc.Block.Start,
				End:     bc.Block.End,
				Samples: bc.Entry,
				Taken:   taken,
			})
		}
		out.SetBlocks(fn, blocks)
	}

	if totalMalformed > 0 {
		logger.Logf(logger.Allow, "cfg", "%d trace samples could not be attributed to any block", totalMalformed)
	}
	return nil
}

func runMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	ignoreBuildID := fs.Bool("ignore-build-id", false, "allow merging profiles with different build-ids")
	outPath := fs.String("out", "-", "path to write the merged profile")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("ocamlfdo: merge requires at least two profile paths")
	}

	merged, err := readProfile(fs.Arg(0))
	if err != nil {
		return err
	}
	for _, path := range fs.Args()[1:] {
		next, err := readProfile(path)
		if err != nil {
			return err
		}
		merged, err = profile.Merge(merged, next, *ignoreBuildID)
		if err != nil {
			return err
		}
	}

	return writeProfile(*outPath, merged)
}

func runTrim(args []string) error {
	fs := flag.NewFlagSet("trim", flag.ExitOnError)
	inPath := fs.String("in", "", "path to the decoded profile")
	outPath := fs.String("out", "-", "path to write the trimmed profile")
	top := fs.Int("top", 0, "keep only the top N functions by self count (0 disables)")
	minSamples := fs.Uint64("min-samples", 0, "drop functions with fewer than this many self samples")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := readProfile(*inPath)
	if err != nil {
		return err
	}

	entries := trim.FromCounts(p.Self)
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[e.Name] = true
	}
	if *minSamples > 0 {
		keep = intersect(keep, trim.MinSamples(entries, *minSamples))
	}
	if *top > 0 {
		keep = intersect(keep, trim.Top(trim.FromCounts(filterSelf(p.Self, keep)), *top))
	}

	p.Self = filterSelf(p.Self, keep)
	for fn := range p.FunctionID {
		if !keep[fn] {
			delete(p.FunctionID, fn)
		}
	}
	for callee := range p.Callers {
		if !keep[callee] {
			delete(p.Callers, callee)
		}
	}
	for fn := range p.Blocks {
		if !keep[fn] {
			delete(p.Blocks, fn)
		}
	}

	return writeProfile(*outPath, p)
}

func runLayout(args []string) error {
	fs := flag.NewFlagSet("layout", flag.ExitOnError)
	inPath := fs.String("in", "", "path to the decoded profile")
	outPath := fs.String("out", "-", "path to write the hot-functions fragment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := readProfile(*inPath)
	if err != nil {
		return err
	}

	order := layout.OrderBySamples(p.Self, p.FunctionID, nil)

	w := os.Stdout
	if *outPath != "-" {
		file, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	return layout.Emit(w, order)
}

func readProfile(path string) (*profile.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return profile.ReadText(f)
}

func writeProfile(path string, p *profile.Profile) error {
	w := os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return p.WriteText(w)
}

func filterSelf(self map[string]uint64, keep map[string]bool) map[string]uint64 {
	out := make(map[string]uint64, len(keep))
	for name, n := range self {
		if keep[name] {
			out[name] = n
		}
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}
