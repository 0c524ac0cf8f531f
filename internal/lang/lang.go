// Package lang provides a language registry mapping file extensions to
// tree-sitter languages, plus the syntax-tree queries the extractor relies on.
package lang

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/pyclosure/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Parse parses source with parser. The caller owns the returned tree and must Close it.
func Parse(ctx context.Context, parser *sitter.Parser, source []byte) (*sitter.Tree, error) {
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing source: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parsing source: no tree produced")
	}
	return tree, nil
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// Query selects descendant nodes by kind.
type Query struct {
	// Kinds are the node types to collect. Empty collects every node.
	Kinds []string
	// Ignore are node types whose subtrees are pruned from the traversal.
	Ignore []string
	// AvoidNested stops descending into a collected node.
	AvoidNested bool
}

// Descendants returns the nodes under root (root included) matching q, in
// pre-order.
func Descendants(root *sitter.Node, q Query) []*sitter.Node {
	if root == nil {
		return nil
	}
	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if len(q.Kinds) == 0 {
			out = append(out, n)
		} else if contains(q.Kinds, n.Type()) {
			out = append(out, n)
			if q.AvoidNested {
				return
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil || contains(q.Ignore, child.Type()) {
				continue
			}
			walk(child)
		}
	}
	walk(root)
	return out
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// SpanOf converts a node's position to a model.Span.
func SpanOf(node *sitter.Node) model.Span {
	start, end := node.StartPoint(), node.EndPoint()
	return model.Span{
		Start:     model.Point{Line: int(start.Row) + 1, Column: int(start.Column)},
		End:       model.Point{Line: int(end.Row) + 1, Column: int(end.Column)},
		StartByte: int(node.StartByte()),
		EndByte:   int(node.EndByte()),
	}
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func contains(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
