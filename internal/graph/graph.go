// Package graph derives file and function dependency edges from an
// extraction and ranks modules with PageRank.
package graph

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/pyclosure/internal/model"
)

// Analyze fills the dependency edges, call edges and module ranks of x.
func Analyze(x *model.Extraction) {
	x.Dependencies = Dependencies(x)
	x.CallEdges = CallEdges(x)
	x.Ranks = Rank(x, x.Dependencies)
}

// Rel returns path relative to the extraction root, with forward slashes.
func Rel(x *model.Extraction, path string) string {
	rel, err := filepath.Rel(x.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func roots(x *model.Extraction) []model.Node {
	out := make([]model.Node, 0, len(x.Modules))
	for _, m := range x.Modules {
		out = append(out, m)
	}
	return out
}

// Dependencies returns one edge per (importing file, defining file) pair
// reachable from the extraction. Symbols are the labels of the definitions
// the import exposes, in attachment order.
func Dependencies(x *model.Extraction) []model.Dependency {
	type edgeKey struct{ src, tgt string }
	edgeSymbols := make(map[edgeKey][]string)

	model.Visit(roots(x), func(n model.Node) bool {
		imp, ok := n.(*model.Import)
		if !ok {
			return true
		}
		src := Rel(x, imp.Path)
		for _, c := range imp.Children {
			tgt := Rel(x, c.Common().Path)
			if tgt == src {
				continue // no self-edges
			}
			key := edgeKey{src, tgt}
			if !contains(edgeSymbols[key], model.Label(c)) {
				edgeSymbols[key] = append(edgeSymbols[key], model.Label(c))
			}
		}
		return true
	})

	deps := make([]model.Dependency, 0, len(edgeSymbols))
	for key, syms := range edgeSymbols {
		deps = append(deps, model.Dependency{Source: key.src, Target: key.tgt, Symbols: syms})
	}

	// Sort for deterministic output
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Source != deps[j].Source {
			return deps[i].Source < deps[j].Source
		}
		return deps[i].Target < deps[j].Target
	})
	return deps
}

// CallEdges returns function-level edges: a function depends on another
// function it has as a child, directly or through one of its imports.
// Names are qualified as "path:name". Edges are deduplicated and sorted.
func CallEdges(x *model.Extraction) []model.CallEdge {
	type edgeKey struct{ caller, callee string }
	seen := make(map[edgeKey]struct{})
	var edges []model.CallEdge

	add := func(caller, callee *model.Function) {
		key := edgeKey{qualify(x, caller), qualify(x, callee)}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		edges = append(edges, model.CallEdge{Caller: key.caller, Callee: key.callee})
	}

	model.Visit(roots(x), func(n model.Node) bool {
		fn, ok := n.(*model.Function)
		if !ok {
			return true
		}
		for _, c := range fn.Children {
			switch v := c.(type) {
			case *model.Function:
				add(fn, v)
			case *model.Import:
				for _, ic := range v.Children {
					if callee, ok := ic.(*model.Function); ok {
						add(fn, callee)
					}
				}
			}
		}
		return true
	})

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Caller != edges[j].Caller {
			return edges[i].Caller < edges[j].Caller
		}
		return edges[i].Callee < edges[j].Callee
	})
	return edges
}

func qualify(x *model.Extraction, fn *model.Function) string {
	return Rel(x, fn.Path) + ":" + fn.Name
}

// Rank applies PageRank over the extracted modules, weighting each
// dependency edge by its symbol count. Keys are root-relative paths.
func Rank(x *model.Extraction, deps []model.Dependency) map[string]float64 {
	if len(x.Modules) == 0 {
		return nil
	}

	nodes := make(map[string]struct{})
	for _, m := range x.Modules {
		nodes[Rel(x, m.Path)] = struct{}{}
	}

	if len(deps) == 0 {
		uniform := 1.0 / float64(len(nodes))
		ranks := make(map[string]float64, len(nodes))
		for node := range nodes {
			ranks[node] = uniform
		}
		return ranks
	}

	// Edge from source to target means source depends on target.
	outEdges := make(map[string][]string)
	outDegree := make(map[string]int)
	for _, d := range deps {
		// Targets such as package initializers join the graph too.
		nodes[d.Source] = struct{}{}
		nodes[d.Target] = struct{}{}
		for range d.Symbols {
			outEdges[d.Source] = append(outEdges[d.Source], d.Target)
			outDegree[d.Source]++
		}
	}

	return pageRank(nodes, outEdges, outDegree, 0.85, 100, 1e-6)
}

// Ranked returns the modules of x ordered by rank descending, ties by path.
func Ranked(x *model.Extraction) []*model.Module {
	out := append([]*model.Module(nil), x.Modules...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := x.Ranks[Rel(x, out[i].Path)], x.Ranks[Rel(x, out[j].Path)]
		if ri != rj {
			return ri > rj
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Top returns a copy of x restricted to its n highest-ranked modules, with
// edges between kept modules only. Modules stay in path order.
func Top(x *model.Extraction, n int) *model.Extraction {
	if n <= 0 || n >= len(x.Modules) {
		return x
	}

	keep := make(map[string]struct{}, n)
	for _, m := range Ranked(x)[:n] {
		keep[Rel(x, m.Path)] = struct{}{}
	}
	kept := func(path string) bool {
		_, ok := keep[path]
		return ok
	}

	out := &model.Extraction{RepoName: x.RepoName, Root: x.Root, Ranks: x.Ranks}
	for _, m := range x.Modules {
		if kept(Rel(x, m.Path)) {
			out.Modules = append(out.Modules, m)
		}
	}
	for _, d := range x.Dependencies {
		if kept(d.Source) && kept(d.Target) {
			out.Dependencies = append(out.Dependencies, d)
		}
	}
	for _, e := range x.CallEdges {
		if kept(filePart(e.Caller)) && kept(filePart(e.Callee)) {
			out.CallEdges = append(out.CallEdges, e)
		}
	}
	return out
}

func filePart(qualified string) string {
	if i := strings.LastIndex(qualified, ":"); i >= 0 {
		return qualified[:i]
	}
	return qualified
}

func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for node := range nodes {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		newRank := make(map[string]float64, n)

		// Dangling node contribution (nodes with no outgoing edges)
		var danglingSum float64
		for node := range nodes {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for node := range nodes {
			newRank[node] = teleport + danglingContrib
		}

		for src, targets := range outEdges {
			contrib := alpha * rank[src] / float64(outDegree[src])
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for node := range nodes {
			diff += math.Abs(newRank[node] - rank[node])
		}

		rank = newRank

		if diff < tol {
			break
		}
	}

	return rank
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
