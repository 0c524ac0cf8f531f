// Package parse extracts definition metadata, import clauses and top-level
// bindings from Python syntax trees.
package parse

import (
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/pyclosure/internal/lang"
	"github.com/phobologic/pyclosure/internal/model"
)

// ErrMalformedImport is returned when an import statement has an unexpected shape.
var ErrMalformedImport = errors.New("malformed import")

// FunctionMeta describes a function definition.
type FunctionMeta struct {
	Name       string
	Params     []string
	ReturnType string
	Docstring  string
}

// Function returns the metadata of a function_definition node.
func Function(node *sitter.Node, source []byte) FunctionMeta {
	meta := FunctionMeta{Name: DefinitionName(node, source)}
	if params := node.ChildByFieldName("parameters"); params != nil {
		meta.Params = paramNames(params, source)
	}
	if rt := node.ChildByFieldName("return_type"); rt != nil {
		meta.ReturnType = lang.CollapseWhitespace(lang.NodeText(rt, source))
	}
	if body := node.ChildByFieldName("body"); body != nil {
		meta.Docstring = Docstring(body, source)
	}
	return meta
}

// DefinitionName returns the identifier of a function or class definition.
func DefinitionName(node *sitter.Node, source []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return lang.NodeText(name, source)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == lang.Identifier {
			return lang.NodeText(child, source)
		}
	}
	return ""
}

func paramNames(params *sitter.Node, source []byte) []string {
	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		if name := paramName(params.NamedChild(i), source); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func paramName(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case lang.Identifier:
		return lang.NodeText(node, source)
	case "default_parameter", "typed_default_parameter":
		return paramName(node.ChildByFieldName("name"), source)
	case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		if node.NamedChildCount() > 0 {
			return paramName(node.NamedChild(0), source)
		}
	}
	return ""
}

// Docstring returns the leading string literal of a block, without quotes.
func Docstring(block *sitter.Node, source []byte) string {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		stmt := block.NamedChild(i)
		if stmt.Type() == lang.Comment {
			continue
		}
		if stmt.Type() != lang.ExpressionStatement || stmt.NamedChildCount() == 0 {
			return ""
		}
		str := stmt.NamedChild(0)
		if str.Type() != lang.String {
			return ""
		}
		return stringContent(lang.NodeText(str, source))
	}
	return ""
}

func stringContent(raw string) string {
	raw = strings.TrimLeft(raw, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return raw[len(q) : len(raw)-len(q)]
		}
	}
	return strings.Trim(raw, `"'`)
}

// Imports splits an import statement into one ParsedImport per clause.
func Imports(node *sitter.Node, source []byte) ([]model.ParsedImport, error) {
	if !lang.IsImport(node.Type()) {
		return nil, fmt.Errorf("%w: %s is not an import statement", ErrMalformedImport, node.Type())
	}

	var (
		pkg        string
		hasPackage bool
		inPackage  bool
		inModules  bool
		clauses    []*sitter.Node
	)
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch {
		case child.Type() == "from":
			inPackage, inModules = true, false
		case inPackage:
			switch child.Type() {
			case lang.DottedName, lang.RelativeImport, "__future__":
				pkg = compact(lang.NodeText(child, source))
				hasPackage = true
			default:
				return nil, fmt.Errorf("%w: unexpected %s after from", ErrMalformedImport, child.Type())
			}
			inPackage = false
		case child.Type() == "import":
			inModules = true
		case inModules:
			switch child.Type() {
			case lang.DottedName, lang.AliasedImport, lang.WildcardImport:
				clauses = append(clauses, child)
			}
		}
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("%w: no imported names in %q", ErrMalformedImport, lang.NodeText(node, source))
	}

	imports := make([]model.ParsedImport, 0, len(clauses))
	for _, clause := range clauses {
		var module, alias string
		switch clause.Type() {
		case lang.WildcardImport:
			module = "*"
		case lang.AliasedImport:
			name := clause.ChildByFieldName("name")
			as := clause.ChildByFieldName("alias")
			if name == nil || as == nil {
				return nil, fmt.Errorf("%w: incomplete alias %q", ErrMalformedImport, lang.NodeText(clause, source))
			}
			module = compact(lang.NodeText(name, source))
			alias = lang.NodeText(as, source)
		default:
			module = compact(lang.NodeText(clause, source))
		}

		text := "import " + module
		if hasPackage {
			text = "from " + pkg + " import " + module
		}
		if alias != "" {
			text += " as " + alias
		}
		imp := model.ParsedImport{Module: module, Alias: alias, Text: text}
		if hasPackage {
			imp.Package = pkg
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

// DottedNames returns the text of every dotted_name in an import statement.
// It serves as a coarse name set when the statement cannot be parsed into clauses.
func DottedNames(node *sitter.Node, source []byte) []string {
	var names []string
	for _, n := range lang.Descendants(node, lang.Query{Kinds: []string{lang.DottedName}, AvoidNested: true}) {
		names = append(names, compact(lang.NodeText(n, source)))
	}
	return names
}

// BoundNames returns the names an import statement introduces and whether it
// contains a wildcard clause. Malformed statements fall back to DottedNames.
func BoundNames(node *sitter.Node, source []byte) (names []string, wildcard bool) {
	imports, err := Imports(node, source)
	if err != nil {
		return DottedNames(node, source), false
	}
	for _, imp := range imports {
		if imp.IsWildcard() {
			wildcard = true
			continue
		}
		names = append(names, imp.BoundNames()...)
	}
	return names, wildcard
}

// FirstIdentifier returns the first identifier in node, skipping decorators.
func FirstIdentifier(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	if node.Type() == lang.Identifier {
		return lang.NodeText(node, source)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == lang.Decorator {
			continue
		}
		if name := FirstIdentifier(child, source); name != "" {
			return name
		}
	}
	return ""
}

// TopLevelBindings returns the sorted names bound at the top level of a module:
// the bound names of import statements and the first identifier of every
// other statement.
func TopLevelBindings(root *sitter.Node, source []byte) []string {
	names := model.NewNameSet()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if lang.IsImport(stmt.Type()) {
			bound, _ := BoundNames(stmt, source)
			names.Add(bound...)
			continue
		}
		if first := FirstIdentifier(stmt, source); first != "" {
			names.Add(first)
		}
	}
	return names.Sorted()
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
