// Package model defines core data structures for pyclosure.
package model

import (
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant of a dependency node.
type Kind string

const (
	KindModule   Kind = "module"
	KindFunction Kind = "function"
	KindClass    Kind = "class"
	KindBlock    Kind = "block"
	KindImport   Kind = "import"
)

// Point is a position in a source file. Line is 1-based, Column is a 0-based byte offset within the line.
type Point struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Less reports whether p comes before o in the file.
func (p Point) Less(o Point) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Column < o.Column
}

// Span is the source range of a syntax node.
type Span struct {
	Start     Point `json:"start"`
	End       Point `json:"end"`
	StartByte int   `json:"start_byte"`
	EndByte   int   `json:"end_byte"`
}

// Key identifies a node within one extraction run.
// Functions and classes are keyed by name, imports by their literal statement text.
type Key struct {
	Kind Kind
	Path string
	Name string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.Path + "#" + k.Name
}

// Base holds the fields shared by every node variant.
type Base struct {
	Path string `json:"path"`
	Text string `json:"text"`
	Span Span   `json:"span"`
}

// Common returns the shared fields of a node.
func (b *Base) Common() *Base { return b }

// Node is a dependency node. The variant set is closed:
// *Module, *Function, *Class, *Block and *Import.
type Node interface {
	Kind() Kind
	Key() Key
	Common() *Base
	isNode()
}

// Module is the extracted surface of one source file.
type Module struct {
	Base
	Functions []*Function
	Imports   []*Import
}

func (*Module) Kind() Kind { return KindModule }
func (m *Module) Key() Key { return Key{Kind: KindModule, Path: m.Path} }
func (*Module) isNode()    {}

// Function is a top-level function definition and its resolved dependencies.
type Function struct {
	Base
	Name       string
	Params     []string
	ReturnType string
	Docstring  string
	FreeIdents NameSet
	Children   []Node
}

func (*Function) Kind() Kind { return KindFunction }
func (f *Function) Key() Key { return Key{Kind: KindFunction, Path: f.Path, Name: f.Name} }
func (*Function) isNode()    {}

// Class is a top-level class definition. Classes are always leaves.
type Class struct {
	Base
	Name string
}

func (*Class) Kind() Kind { return KindClass }
func (c *Class) Key() Key { return Key{Kind: KindClass, Path: c.Path, Name: c.Name} }
func (*Class) isNode()    {}

// Block is a top-level statement that is neither a definition nor an import.
// Name is the first identifier found in the statement.
type Block struct {
	Base
	Name string
}

func (*Block) Kind() Kind { return KindBlock }

// Key includes the start line because several statements may share a first identifier.
func (b *Block) Key() Key {
	return Key{Kind: KindBlock, Path: b.Path, Name: b.Name + "@" + strconv.Itoa(b.Span.Start.Line)}
}
func (*Block) isNode() {}

// Import is a top-level import statement and the definitions it exposes.
type Import struct {
	Base
	Imports  []ResolvedImport
	Children []Node
}

func (*Import) Kind() Kind { return KindImport }
func (i *Import) Key() Key { return Key{Kind: KindImport, Path: i.Path, Name: i.Text} }
func (*Import) isNode()    {}

// ParsedImport is one clause of an import statement, e.g. "b" and "c as d" in
// "from a import b, c as d".
type ParsedImport struct {
	// Package is the dotted path after "from", possibly prefixed with dots. Empty for "import x".
	Package string `json:"package,omitempty"`
	// Module is the imported name, "*" for a wildcard.
	Module string `json:"module"`
	Alias  string `json:"alias,omitempty"`
	// Text is the reconstructed single-clause import statement.
	Text string `json:"text"`
}

// IsWildcard reports whether the clause is "from x import *".
func (p ParsedImport) IsWildcard() bool { return p.Module == "*" }

// RelativeLevel returns the number of leading dots of the package path.
func (p ParsedImport) RelativeLevel() int {
	n := 0
	for n < len(p.Package) && p.Package[n] == '.' {
		n++
	}
	return n
}

// Name is the name the clause binds, ignoring dotted-path expansion.
func (p ParsedImport) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Module
}

// BoundNames returns the names introduced in the importing scope.
// "import a.b" binds both "a.b" and "a"; a wildcard binds nothing statically.
func (p ParsedImport) BoundNames() []string {
	if p.IsWildcard() {
		return nil
	}
	if p.Alias != "" {
		return []string{p.Alias}
	}
	if p.Package == "" {
		if head, _, ok := strings.Cut(p.Module, "."); ok {
			return []string{p.Module, head}
		}
	}
	return []string{p.Module}
}

// ResolvedImport is a ParsedImport with its on-disk target.
type ResolvedImport struct {
	ParsedImport
	// Path is the resolved file or directory, empty when unresolved.
	Path string `json:"path,omitempty"`
	// FileOrFolder is true when the imported name is itself a file or folder
	// rather than a symbol defined inside Path.
	FileOrFolder bool `json:"file_or_folder"`
}

// Resolved reports whether the import was mapped to a path.
func (r ResolvedImport) Resolved() bool { return r.Path != "" }

// Dependency represents an edge in the file dependency graph:
// Source depends on Symbols defined in Target.
type Dependency struct {
	Source  string   `json:"source"`
	Target  string   `json:"target"`
	Symbols []string `json:"symbols"`
}

// CallEdge is a function-level dependency edge. Caller and Callee are
// qualified as "path:name".
type CallEdge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// Extraction is a complete analyzed repository, ready for serialization.
type Extraction struct {
	RepoName     string
	Root         string
	Modules      []*Module
	Dependencies []Dependency
	CallEdges    []CallEdge
	Ranks        map[string]float64
}

// Children returns the dependency edges of n. Leaves return nil.
func Children(n Node) []Node {
	switch v := n.(type) {
	case *Function:
		return v.Children
	case *Import:
		return v.Children
	case *Module:
		out := make([]Node, 0, len(v.Functions)+len(v.Imports))
		for _, f := range v.Functions {
			out = append(out, f)
		}
		for _, i := range v.Imports {
			out = append(out, i)
		}
		return out
	}
	return nil
}

// Label returns a short human-readable name for n.
func Label(n Node) string {
	switch v := n.(type) {
	case *Function:
		return v.Name
	case *Class:
		return v.Name
	case *Block:
		return v.Name
	case *Import:
		names := make([]string, 0, len(v.Imports))
		for _, ri := range v.Imports {
			names = append(names, ri.Module)
		}
		if len(names) == 0 {
			return strings.Join(strings.Fields(v.Text), " ")
		}
		return strings.Join(names, ",")
	case *Module:
		return v.Path
	}
	return ""
}

// Visit walks the dependency graph reachable from roots depth-first, calling
// fn once per distinct node. Shared and cyclic references are visited once.
// Returning false from fn skips the node's children.
func Visit(roots []Node, fn func(Node) bool) {
	seen := make(map[Key]struct{})
	var walk func(Node)
	walk = func(n Node) {
		k := n.Key()
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		if !fn(n) {
			return
		}
		for _, c := range Children(n) {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
}

// SortBySpan orders nodes by ascending start position.
func SortBySpan[T Node](nodes []T) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Common().Span.Start.Less(nodes[j].Common().Span.Start)
	})
}

// NameSet is a set of identifiers.
type NameSet map[string]struct{}

// NewNameSet returns a set holding names.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts names into the set.
func (s NameSet) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

// Has reports whether name is in the set. A nil set holds nothing.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// HasAny reports whether any of names is in the set.
func (s NameSet) HasAny(names []string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// Sorted returns the members in lexical order.
func (s NameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
