// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// extraction results.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/pyclosure/internal/graph"
	"github.com/phobologic/pyclosure/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts an extraction into TOON format. Paths are relative to the
// extraction root.
func Encode(x *model.Extraction) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("repo: %s", encodeValue(x.RepoName)))
	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(x.Root)))

	var moduleRows [][]string
	for _, m := range x.Modules {
		rel := graph.Rel(x, m.Path)
		moduleRows = append(moduleRows, []string{
			rel,
			fmt.Sprintf("%.4f", x.Ranks[rel]),
			strconv.Itoa(len(m.Functions)),
			strconv.Itoa(len(m.Imports)),
		})
	}
	parts = append(parts, formatTabular("modules", []string{"path", "rank", "functions", "imports"}, moduleRows))

	var fnRows [][]string
	for _, m := range x.Modules {
		for _, fn := range m.Functions {
			fnRows = append(fnRows, []string{
				graph.Rel(x, fn.Path),
				fn.Name,
				strconv.Itoa(fn.Span.Start.Line),
				Signature(fn),
				strings.Join(childLabels(fn.Children), " "),
			})
		}
	}
	parts = append(parts, formatTabular("functions", []string{"file", "name", "line", "signature", "depends"}, fnRows))

	var importRows [][]string
	for _, m := range x.Modules {
		for _, imp := range m.Imports {
			importRows = append(importRows, []string{
				graph.Rel(x, imp.Path),
				strconv.Itoa(imp.Span.Start.Line),
				strings.Join(strings.Fields(imp.Text), " "),
				strings.Join(targets(x, imp), " "),
			})
		}
	}
	parts = append(parts, formatTabular("imports", []string{"file", "line", "statement", "targets"}, importRows))

	var depRows [][]string
	for i := range x.Dependencies {
		d := &x.Dependencies[i]
		depRows = append(depRows, []string{
			d.Source,
			d.Target,
			strings.Join(d.Symbols, " "),
		})
	}
	parts = append(parts, formatTabular("dependencies", []string{"source", "target", "symbols"}, depRows))

	var callRows [][]string
	for i := range x.CallEdges {
		ce := &x.CallEdges[i]
		callRows = append(callRows, []string{ce.Caller, ce.Callee})
	}
	parts = append(parts, formatTabular("calls", []string{"caller", "callee"}, callRows))

	return strings.Join(parts, "\n")
}

// Signature renders fn as "name(params) -> return".
func Signature(fn *model.Function) string {
	sig := fn.Name + "(" + strings.Join(fn.Params, ", ") + ")"
	if fn.ReturnType != "" {
		sig += " -> " + fn.ReturnType
	}
	return sig
}

func childLabels(children []model.Node) []string {
	out := make([]string, 0, len(children))
	for _, c := range children {
		out = append(out, string(c.Kind())+":"+model.Label(c))
	}
	return out
}

// targets lists the distinct resolved paths of imp. Paths outside the root
// are kept as-is so third-party resolutions stay visible.
func targets(x *model.Extraction, imp *model.Import) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, ri := range imp.Imports {
		if !ri.Resolved() {
			continue
		}
		rel := graph.Rel(x, ri.Path)
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		out = append(out, rel)
	}
	return out
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	switch {
	case value == "":
		return `""`
	case value != strings.TrimSpace(value), strings.ContainsAny(value, "\n\r\t"):
		return quote(value)
	}
	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}
	if looksNumeric.MatchString(value) {
		return value
	}
	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}
	return value
}

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func quote(value string) string {
	return `"` + escaper.Replace(value) + `"`
}
