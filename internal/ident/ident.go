// Package ident computes the free identifiers of a function body.
package ident

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/pyclosure/internal/lang"
	"github.com/phobologic/pyclosure/internal/model"
)

var (
	callQuery       = lang.Query{Kinds: []string{lang.Call}}
	identifierQuery = lang.Query{Kinds: []string{lang.Identifier}}
	stringQuery     = lang.Query{Kinds: []string{lang.String}, AvoidNested: true}
)

// FreeIdentifiers returns the names fn may depend on.
//
// Every call expression is reduced to its callee by removing string literals
// and parenthesized spans. A single-segment callee is always kept; for a
// dotted callee every segment after the first is excluded, since attribute
// names cannot be resolved without types. Remaining identifiers are kept
// unless excluded. The function's own name and params are removed.
func FreeIdentifiers(fn *sitter.Node, source []byte, params []string, name string) model.NameSet {
	include := model.NewNameSet()
	exclude := model.NewNameSet()

	for _, call := range lang.Descendants(fn, callQuery) {
		segments := strings.Split(Callee(call, source), ".")
		if len(segments) == 1 {
			include.Add(strings.TrimSpace(segments[0]))
			continue
		}
		for _, seg := range segments[1:] {
			exclude.Add(strings.TrimSpace(seg))
		}
	}

	free := model.NewNameSet()
	for _, id := range lang.Descendants(fn, identifierQuery) {
		text := lang.NodeText(id, source)
		if include.Has(text) || !exclude.Has(text) {
			free.Add(text)
		}
	}
	for _, p := range params {
		delete(free, p)
	}
	delete(free, name)
	return free
}

// Callee returns the text of a call expression with string literals and
// parenthesized spans removed, e.g. `a.b("x(").c(y)` becomes "a.b.c".
func Callee(call *sitter.Node, source []byte) string {
	start := call.StartByte()
	text := []byte(lang.NodeText(call, source))

	// Blank out strings first so parentheses inside them are not counted.
	for _, s := range lang.Descendants(call, stringQuery) {
		for i := s.StartByte() - start; i < s.EndByte()-start; i++ {
			text[i] = 0
		}
	}

	var b strings.Builder
	depth := 0
	for _, c := range text {
		switch {
		case c == 0:
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteByte(c)
		}
	}
	return b.String()
}
