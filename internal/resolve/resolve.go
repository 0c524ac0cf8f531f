// Package resolve maps parsed import clauses to files and directories in a
// repository.
package resolve

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/pyclosure/internal/discover"
	"github.com/phobologic/pyclosure/internal/index"
	"github.com/phobologic/pyclosure/internal/lang"
	"github.com/phobologic/pyclosure/internal/model"
	"github.com/phobologic/pyclosure/internal/parse"
)

// FS is the filesystem the resolver probes.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

// OSFS is the host filesystem.
type OSFS struct{}

func (OSFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (OSFS) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }

// Resolver resolves imports against one repository index.
// A Resolver is not safe for concurrent use.
type Resolver struct {
	fs     FS
	idx    *index.Index
	exts   []string
	log    *slog.Logger
	parser *sitter.Parser
	// bindings caches the top-level names of initializer files missing from the index.
	bindings map[string]model.NameSet
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFS replaces the host filesystem.
func WithFS(fsys FS) Option {
	return func(r *Resolver) { r.fs = fsys }
}

// WithLogger sets the logger for unreadable initializer files.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// New returns a resolver backed by idx.
func New(idx *index.Index, opts ...Option) *Resolver {
	r := &Resolver{
		fs:       OSFS{},
		idx:      idx,
		exts:     idx.Extensions,
		log:      slog.New(slog.DiscardHandler),
		bindings: make(map[string]model.NameSet),
	}
	if len(r.exts) == 0 {
		r.exts = discover.DefaultOptions().Extensions
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveAll resolves every clause imported by the file at from.
func (r *Resolver) ResolveAll(ctx context.Context, imports []model.ParsedImport, from string) []model.ResolvedImport {
	out := make([]model.ResolvedImport, 0, len(imports))
	for _, imp := range imports {
		out = append(out, r.Resolve(ctx, imp, from))
	}
	return out
}

// Resolve maps imp, imported by the file at from, to a path. Relative imports
// walk up from the importing file; other imports are probed from the
// importing file's directory and then searched for in the index. An
// unresolved import has an empty Path.
func (r *Resolver) Resolve(ctx context.Context, imp model.ParsedImport, from string) model.ResolvedImport {
	res := model.ResolvedImport{ParsedImport: imp}

	if level := imp.RelativeLevel(); level > 0 {
		start := from
		for range level {
			start = filepath.Dir(start)
		}
		res.Path, res.FileOrFolder = r.probe(ctx, start, imp.Package[level:], imp.Module)
		return res
	}

	pkg, module := imp.Package, imp.Module
	if pkg == "" {
		if i := strings.LastIndex(module, "."); i >= 0 {
			pkg, module = module[:i], module[i+1:]
		}
	}
	if pkg == "" {
		// A plain `import x` binds a module or package, never a name
		// re-exported by an initializer.
		if path := r.moduleAt(filepath.Dir(from), module); path != "" {
			res.Path, res.FileOrFolder = path, true
			return res
		}
		if r.idx != nil && r.idx.Root != nil {
			if c := r.child(r.idx.Root, module); c != nil {
				res.Path, res.FileOrFolder = c.Path, true
			}
		}
		return res
	}
	if path, fof := r.probe(ctx, filepath.Dir(from), pkg, module); path != "" {
		res.Path, res.FileOrFolder = path, fof
		return res
	}
	res.Path, res.FileOrFolder = r.search(pkg, module)
	return res
}

// probe checks the filesystem for module under start/<dotted>.
func (r *Resolver) probe(ctx context.Context, start, dotted, module string) (string, bool) {
	wildcard := module == "*"

	if dotted == "" {
		if wildcard {
			return r.initFile(start), false
		}
		if p := r.moduleAt(start, module); p != "" {
			return p, true
		}
		if init := r.initFile(start); init != "" && r.binds(ctx, init, module) {
			return init, false
		}
		return "", false
	}

	base := filepath.Join(start, filepath.FromSlash(strings.ReplaceAll(dotted, ".", "/")))
	for _, ext := range r.exts {
		if p := base + ext; r.isFile(p) {
			return p, false
		}
		if wildcard {
			continue
		}
		if p := filepath.Join(base, module+ext); r.isFile(p) {
			return p, true
		}
	}
	if init := r.initFile(base); init != "" && (wildcard || r.binds(ctx, init, module)) {
		return init, false
	}
	if p := filepath.Join(base, module); !wildcard && r.isDir(p) {
		return p, true
	}
	return "", false
}

// moduleAt returns dir/module.<ext> or the package directory dir/module.
func (r *Resolver) moduleAt(dir, module string) string {
	for _, ext := range r.exts {
		if p := filepath.Join(dir, module+ext); r.isFile(p) {
			return p
		}
	}
	if p := filepath.Join(dir, module); r.isDir(p) {
		return p
	}
	return ""
}

// search looks for pkg.module anywhere in the index. Every entry named after
// the first package segment is a candidate; the first one whose remaining
// segments and module verify wins.
func (r *Resolver) search(pkg, module string) (string, bool) {
	if r.idx == nil || r.idx.Root == nil {
		return "", false
	}
	var segments []string
	if pkg != "" {
		segments = strings.Split(pkg, ".")
	}

	var tracks []*index.Entry
	if len(segments) == 0 {
		tracks = []*index.Entry{r.idx.Root}
	} else {
		tracks = r.searchPath(r.idx.Root, segments[0], nil)
		segments = segments[1:]
	}
	for _, track := range tracks {
		if path, fof, ok := r.verify(track, segments, module); ok {
			return path, fof
		}
	}
	return "", false
}

// searchPath collects, depth-first in name order, every entry named key or
// key plus a source extension. Matching entries are not descended into.
func (r *Resolver) searchPath(e *index.Entry, key string, tracks []*index.Entry) []*index.Entry {
	for _, child := range e.SortedChildren() {
		if child.Name == key || r.isModuleName(child.Name, key) {
			tracks = append(tracks, child)
			continue
		}
		tracks = r.searchPath(child, key, tracks)
	}
	return tracks
}

func (r *Resolver) verify(track *index.Entry, segments []string, module string) (string, bool, bool) {
	wildcard := module == "*"

	if !track.Dir {
		if len(segments) == 0 && (wildcard || track.Binds(module)) {
			return track.Path, false, true
		}
		return "", false, false
	}

	if len(segments) > 0 {
		next := r.child(track, segments[0])
		if next == nil {
			return "", false, false
		}
		return r.verify(next, segments[1:], module)
	}

	if !wildcard {
		if c := r.child(track, module); c != nil {
			return c.Path, true, true
		}
	}
	for _, ext := range r.exts {
		if init := track.Child(discover.InitName + ext); init != nil {
			if wildcard || init.Binds(module) {
				return init.Path, false, true
			}
			break
		}
	}
	return "", false, false
}

// child returns the entry named name, or the module file name+ext.
func (r *Resolver) child(e *index.Entry, name string) *index.Entry {
	if c := e.Child(name); c != nil {
		return c
	}
	for _, ext := range r.exts {
		if c := e.Child(name + ext); c != nil {
			return c
		}
	}
	return nil
}

func (r *Resolver) isModuleName(name, key string) bool {
	for _, ext := range r.exts {
		if name == key+ext {
			return true
		}
	}
	return false
}

func (r *Resolver) initFile(dir string) string {
	for _, ext := range r.exts {
		if p := filepath.Join(dir, discover.InitName+ext); r.isFile(p) {
			return p
		}
	}
	return ""
}

// binds reports whether the file at path binds name at its top level.
func (r *Resolver) binds(ctx context.Context, path, name string) bool {
	if r.idx != nil {
		if e := r.idx.Lookup(path); e != nil && !e.Dir {
			return e.Binds(name)
		}
	}
	names, ok := r.bindings[path]
	if !ok {
		names = model.NewNameSet(r.fileBindings(ctx, path)...)
		r.bindings[path] = names
	}
	return names.Has(name)
}

func (r *Resolver) fileBindings(ctx context.Context, path string) []string {
	source, err := r.fs.ReadFile(path)
	if err != nil {
		r.log.Debug("unreadable initializer", "path", path, "err", err)
		return nil
	}
	if r.parser == nil {
		r.parser = lang.Python().NewParser()
	}
	tree, err := lang.Parse(ctx, r.parser, source)
	if err != nil {
		r.log.Debug("unparseable initializer", "path", path, "err", err)
		return nil
	}
	defer tree.Close()
	return parse.TopLevelBindings(tree.RootNode(), source)
}

func (r *Resolver) isFile(path string) bool {
	fi, err := r.fs.Stat(path)
	return err == nil && !fi.IsDir()
}

func (r *Resolver) isDir(path string) bool {
	fi, err := r.fs.Stat(path)
	return err == nil && fi.IsDir()
}
