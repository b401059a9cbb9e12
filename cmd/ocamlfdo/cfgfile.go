package main

import (
	"encoding/json"
	"os"

	"github.com/nandor/ocamlfdo/cfg"
)

// cfgBlock is the on-disk shape of one basic block in a -cfg file: the
// compiler backend's own view of a function's block structure, supplied
// externally per spec.md's external-interfaces contract. This package never
// derives a CFG from machine code; it only decodes one of these.
type cfgBlock struct {
	Label      string   `json:"label"`
	Start      uint64   `json:"start"`
	End        uint64   `json:"end"`
	Successors []string `json:"successors"`
}

// staticGraph implements cfg.CfgWithLayout over blocks loaded once from a
// file, keyed by the function they belong to.
type staticGraph map[string][]cfg.Block

func (g staticGraph) Blocks(function string) []cfg.Block {
	return g[function]
}

// loadCFG reads a JSON document mapping function name to its list of
// cfgBlocks and returns a cfg.CfgWithLayout over it.
func loadCFG(path string) (cfg.CfgWithLayout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw map[string][]cfgBlock
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, err
	}

	g := make(staticGraph, len(raw))
	for fn, blocks := range raw {
		for _, b := range blocks {
			successors := make([]cfg.SuccessorEdge, len(b.Successors))
			for i, label := range b.Successors {
				successors[i] = cfg.SuccessorEdge{TargetLabel: label}
			}
			g[fn] = append(g[fn], cfg.Block{
				Function:   fn,
				Label:      b.Label,
				Start:      b.Start,
				End:        b.End,
				Successors: successors,
			})
		}
	}
	return g, nil
}
