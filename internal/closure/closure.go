// Package closure builds the dependency closure of Python functions and
// imports: the repository-local definitions they transitively rely on.
package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/pyclosure/internal/ident"
	"github.com/phobologic/pyclosure/internal/index"
	"github.com/phobologic/pyclosure/internal/lang"
	"github.com/phobologic/pyclosure/internal/model"
	"github.com/phobologic/pyclosure/internal/parse"
	"github.com/phobologic/pyclosure/internal/resolve"
)

// ErrRecursionLimit is recorded when expansion nests deeper than the configured ceiling.
var ErrRecursionLimit = errors.New("recursion limit exceeded")

// run is one extraction. It owns the memo table: every function, class,
// block and import node is created once per key and shared afterwards.
type run struct {
	ctx      context.Context
	root     string
	fs       resolve.FS
	resolver *resolve.Resolver
	parser   *sitter.Parser
	typing   model.NameSet
	maxDepth int
	log      *slog.Logger

	memo  map[model.Key]model.Node
	files map[string]*file
	depth int
}

type file struct {
	path   string
	source []byte
	tree   *sitter.Tree
	err    error
}

func (f *file) root() *sitter.Node { return f.tree.RootNode() }

func (e *Extractor) newRun(ctx context.Context, idx *index.Index) *run {
	return &run{
		ctx:      ctx,
		root:     e.root,
		fs:       e.fs,
		resolver: resolve.New(idx, resolve.WithFS(e.fs), resolve.WithLogger(e.log)),
		parser:   lang.Python().NewParser(),
		typing:   model.NewNameSet(e.opts.TypingIdentifiers...),
		maxDepth: e.opts.MaxDepth,
		log:      e.log,
		memo:     make(map[model.Key]model.Node),
		files:    make(map[string]*file),
	}
}

func (r *run) close() {
	for _, f := range r.files {
		if f.tree != nil {
			f.tree.Close()
		}
	}
	r.parser.Close()
}

// file reads and parses path once per run. Failures are remembered.
func (r *run) file(path string) (*file, error) {
	if f, ok := r.files[path]; ok {
		return f, f.err
	}
	f := &file{path: path}
	source, err := r.fs.ReadFile(path)
	if err != nil {
		f.err = fmt.Errorf("reading %s: %w", path, err)
	} else if f.tree, err = lang.Parse(r.ctx, r.parser, source); err != nil {
		f.err = fmt.Errorf("parsing %s: %w", path, err)
	} else {
		f.source = source
	}
	r.files[path] = f
	return f, f.err
}

// within reports whether path lies under the repository root.
func (r *run) within(path string) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// visit registers n and runs expand. Errors and panics stop only this
// node's expansion; children attached before the failure are kept.
func (r *run) visit(n model.Node, expand func() error) {
	r.memo[n.Key()] = n
	if r.depth >= r.maxDepth {
		r.absorb(n, ErrRecursionLimit)
		return
	}
	r.depth++
	defer func() { r.depth-- }()
	if err := r.ctx.Err(); err != nil {
		return
	}
	r.guard(n, func() {
		if err := expand(); err != nil {
			r.absorb(n, err)
		}
	})
}

// guard runs fn, absorbing a panic raised on a malformed tree as a failure of n.
func (r *run) guard(n model.Node, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.absorb(n, fmt.Errorf("panic: %v", p))
		}
	}()
	fn()
}

func (r *run) absorb(n model.Node, err error) {
	r.log.Debug("partial expansion", "node", n.Key().String(), "err", err)
}

func base(f *file, node *sitter.Node) model.Base {
	return model.Base{Path: f.path, Text: lang.NodeText(node, f.source), Span: lang.SpanOf(node)}
}

func (r *run) function(f *file, node *sitter.Node) *model.Function {
	key := model.Key{Kind: model.KindFunction, Path: f.path, Name: parse.DefinitionName(node, f.source)}
	if n, ok := r.memo[key]; ok {
		return n.(*model.Function)
	}

	fn := &model.Function{Base: base(f, node), Name: key.Name}
	r.guard(fn, func() {
		meta := parse.Function(node, f.source)
		fn.Params, fn.ReturnType, fn.Docstring = meta.Params, meta.ReturnType, meta.Docstring
		fn.FreeIdents = ident.FreeIdentifiers(node, f.source, meta.Params, meta.Name)
	})
	r.visit(fn, func() error {
		owner, err := r.file(fn.Path)
		if err != nil {
			return err
		}
		r.attach(owner, fn.FreeIdents, false, &fn.Children)
		return nil
	})
	return fn
}

func (r *run) class(f *file, node *sitter.Node, name string) *model.Class {
	key := model.Key{Kind: model.KindClass, Path: f.path, Name: name}
	if n, ok := r.memo[key]; ok {
		return n.(*model.Class)
	}
	c := &model.Class{Base: base(f, node), Name: name}
	r.memo[key] = c
	return c
}

func (r *run) block(f *file, node *sitter.Node, name string) *model.Block {
	b := &model.Block{Base: base(f, node), Name: name}
	if n, ok := r.memo[b.Key()]; ok {
		return n.(*model.Block)
	}
	r.memo[b.Key()] = b
	return b
}

func (r *run) importNode(f *file, node *sitter.Node) *model.Import {
	key := model.Key{Kind: model.KindImport, Path: f.path, Name: lang.NodeText(node, f.source)}
	if n, ok := r.memo[key]; ok {
		return n.(*model.Import)
	}
	imp := &model.Import{Base: base(f, node)}
	r.visit(imp, func() error {
		return r.expandImport(imp, f, node)
	})
	return imp
}

type target struct {
	path  string
	names model.NameSet
	all   bool
}

// expandImport resolves imp and attaches what it exposes from every
// in-repository target file, grouped by resolved path.
func (r *run) expandImport(imp *model.Import, f *file, node *sitter.Node) error {
	parsed, err := parse.Imports(node, f.source)
	if err != nil {
		return err
	}
	imp.Imports = r.resolver.ResolveAll(r.ctx, parsed, f.path)

	var targets []*target
	byPath := make(map[string]*target)
	for _, ri := range imp.Imports {
		// An import resolved to its own file would attach itself.
		if !ri.Resolved() || ri.Path == f.path || !r.within(ri.Path) {
			continue
		}
		t, ok := byPath[ri.Path]
		if !ok {
			t = &target{path: ri.Path, names: model.NewNameSet()}
			byPath[ri.Path] = t
			targets = append(targets, t)
		}
		if ri.IsWildcard() || ri.FileOrFolder {
			t.all = true
		} else {
			t.names.Add(ri.Module)
		}
	}

	for _, t := range targets {
		// Folder targets cannot be read and expose nothing.
		tf, err := r.file(t.path)
		if err != nil {
			r.log.Debug("skipping import target", "import", imp.Text, "target", t.path, "err", err)
			continue
		}
		r.attach(tf, t.names, t.all, &imp.Children)
	}
	return nil
}

// attach appends to children the top-level definitions and statements of f
// selected by want, or all of them: functions first (expanded), then
// classes, then import statements (expanded) and plain statements in source
// order. A node is attached at most once per parent.
func (r *run) attach(f *file, want model.NameSet, all bool, children *[]model.Node) {
	seen := make(map[model.Key]struct{}, len(*children))
	for _, c := range *children {
		seen[c.Key()] = struct{}{}
	}
	add := func(n model.Node) {
		if _, ok := seen[n.Key()]; ok {
			return
		}
		seen[n.Key()] = struct{}{}
		*children = append(*children, n)
	}
	root := f.root()

	for _, node := range lang.Descendants(root, lang.TopLevelFunctions) {
		if all || want.Has(parse.DefinitionName(node, f.source)) {
			add(r.function(f, node))
		}
	}
	for _, node := range lang.Descendants(root, lang.TopLevelClasses) {
		name := parse.DefinitionName(node, f.source)
		if all || want.Has(name) {
			add(r.class(f, node, name))
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch {
		case lang.IsDefinition(stmt.Type()):
			continue
		case lang.IsImport(stmt.Type()):
			names, wildcard := parse.BoundNames(stmt, f.source)
			if all || wildcard || want.HasAny(names) {
				add(r.importNode(f, stmt))
			}
		case stmt.Type() == lang.ExpressionStatement:
			first := parse.FirstIdentifier(stmt, f.source)
			if first == "" || r.typing.Has(first) {
				continue
			}
			if all || want.Has(first) {
				add(r.block(f, stmt, first))
			}
		}
	}
}

// module assembles the Module for path from every function and import
// node registered for it, ordered by source position.
func (r *run) module(path string) *model.Module {
	m := &model.Module{Base: model.Base{Path: path}}
	for _, n := range r.memo {
		if n.Common().Path != path {
			continue
		}
		switch v := n.(type) {
		case *model.Function:
			m.Functions = append(m.Functions, v)
		case *model.Import:
			m.Imports = append(m.Imports, v)
		}
	}
	model.SortBySpan(m.Functions)
	model.SortBySpan(m.Imports)
	return m
}

// extractModule expands every top-level function of the file at path.
func (r *run) extractModule(path string) {
	f, err := r.file(path)
	if err != nil {
		r.log.Debug("skipping module", "path", path, "err", err)
		return
	}
	for _, node := range lang.Descendants(f.root(), lang.TopLevelFunctions) {
		r.function(f, node)
	}
}
