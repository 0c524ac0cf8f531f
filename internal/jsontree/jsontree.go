// Package jsontree renders an extraction as nested JSON. A node reachable
// from several parents is written in full the first time and as a
// {"ref": key} stub afterwards, so cyclic graphs serialize finitely.
package jsontree

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/phobologic/pyclosure/internal/graph"
	"github.com/phobologic/pyclosure/internal/model"
)

// Document is the top-level JSON value.
type Document struct {
	Repo         string             `json:"repo"`
	Root         string             `json:"root"`
	Modules      []Module           `json:"modules"`
	Dependencies []model.Dependency `json:"dependencies,omitempty"`
	Calls        []model.CallEdge   `json:"calls,omitempty"`
}

// Module is one file's extracted surface.
type Module struct {
	Path      string  `json:"path"`
	Rank      float64 `json:"rank"`
	Functions []*Node `json:"functions"`
	Imports   []*Node `json:"imports"`
}

// Node is a dependency node, or a reference to one written earlier.
type Node struct {
	Ref        string                 `json:"ref,omitempty"`
	Key        string                 `json:"key,omitempty"`
	Kind       model.Kind             `json:"kind,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Span       *model.Span            `json:"span,omitempty"`
	Text       string                 `json:"text,omitempty"`
	Params     []string               `json:"params,omitempty"`
	ReturnType string                 `json:"return_type,omitempty"`
	Docstring  string                 `json:"docstring,omitempty"`
	Imports    []model.ResolvedImport `json:"imports,omitempty"`
	Children   []*Node                `json:"children,omitempty"`
}

type builder struct {
	x       *model.Extraction
	written map[model.Key]struct{}
}

// Build converts x into a Document. Paths are relative to the root.
func Build(x *model.Extraction) *Document {
	b := &builder{x: x, written: make(map[model.Key]struct{})}
	doc := &Document{
		Repo:         x.RepoName,
		Root:         x.Root,
		Modules:      make([]Module, 0, len(x.Modules)),
		Dependencies: x.Dependencies,
		Calls:        x.CallEdges,
	}
	for _, m := range x.Modules {
		rel := graph.Rel(x, m.Path)
		out := Module{Path: rel, Rank: x.Ranks[rel], Functions: []*Node{}, Imports: []*Node{}}
		for _, fn := range m.Functions {
			out.Functions = append(out.Functions, b.node(fn))
		}
		for _, imp := range m.Imports {
			out.Imports = append(out.Imports, b.node(imp))
		}
		doc.Modules = append(doc.Modules, out)
	}
	return doc
}

// Key renders the key of n with a root-relative path.
func Key(x *model.Extraction, n model.Node) string {
	k := n.Key()
	k.Path = graph.Rel(x, k.Path)
	return k.String()
}

func (b *builder) node(n model.Node) *Node {
	key := Key(b.x, n)
	if _, ok := b.written[n.Key()]; ok {
		return &Node{Ref: key}
	}
	b.written[n.Key()] = struct{}{}

	c := n.Common()
	span := c.Span
	out := &Node{
		Key:  key,
		Kind: n.Kind(),
		Path: graph.Rel(b.x, c.Path),
		Name: model.Label(n),
		Span: &span,
		Text: c.Text,
	}
	switch v := n.(type) {
	case *model.Function:
		out.Params = v.Params
		out.ReturnType = v.ReturnType
		out.Docstring = v.Docstring
	case *model.Import:
		out.Imports = v.Imports
	}
	for _, child := range model.Children(n) {
		out.Children = append(out.Children, b.node(child))
	}
	return out
}

// Write encodes x as indented JSON to w.
func Write(w io.Writer, x *model.Extraction) error {
	data, err := json.MarshalIndent(Build(x), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding extraction: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing extraction: %w", err)
	}
	return nil
}
