package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/phobologic/pyclosure/internal/discover"
	"github.com/phobologic/pyclosure/internal/index"
	"github.com/phobologic/pyclosure/internal/lang"
	"github.com/phobologic/pyclosure/internal/model"
	"github.com/phobologic/pyclosure/internal/parse"
	"github.com/phobologic/pyclosure/internal/resolve"
)

var (
	// ErrInvalidRoot is returned when the repository root is missing or not a directory.
	ErrInvalidRoot = errors.New("invalid repository root")
	// ErrFunctionNotFound is returned by ExtractFunction for an unknown name.
	ErrFunctionNotFound = errors.New("function not found")
)

// DefaultMaxDepth is the default expansion ceiling.
const DefaultMaxDepth = 200

// DefaultTypingIdentifiers are typing names never attached as statements.
var DefaultTypingIdentifiers = []string{
	"Any", "Callable", "Dict", "List", "Optional", "Set", "Tuple", "Type", "TypeVar", "Union",
	"Iterable", "Iterator", "Sequence", "Mapping", "Generic", "Literal", "Protocol",
}

// Options configures an Extractor.
type Options struct {
	Index index.Options
	// MaxDepth bounds nested expansion. Zero means DefaultMaxDepth.
	MaxDepth int
	// TypingIdentifiers are first identifiers that never select a statement.
	// Nil means DefaultTypingIdentifiers.
	TypingIdentifiers []string
	// Cache, if set, shares repository indexes across extractors.
	Cache  *index.Cache
	FS     resolve.FS
	Logger *slog.Logger
}

// Extractor extracts dependency closures from one repository. It is safe
// for concurrent use; every call owns its memo table and shares only the
// read-only index.
type Extractor struct {
	root string
	opts Options
	fs   resolve.FS
	log  *slog.Logger
}

// New returns an extractor for the repository at root.
func New(root string, opts Options) (*Extractor, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRoot, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s: not a directory", ErrInvalidRoot, abs)
	}

	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.TypingIdentifiers == nil {
		opts.TypingIdentifiers = DefaultTypingIdentifiers
	}
	defaults := discover.DefaultOptions()
	if len(opts.Index.Extensions) == 0 {
		opts.Index.Extensions = defaults.Extensions
	}
	if opts.Index.ExcludePrefixes == nil {
		opts.Index.ExcludePrefixes = defaults.ExcludePrefixes
	}
	e := &Extractor{root: abs, opts: opts, fs: opts.FS, log: opts.Logger}
	if e.fs == nil {
		e.fs = resolve.OSFS{}
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if opts.Index.Logger == nil {
		e.opts.Index.Logger = e.log
	}
	return e, nil
}

// Root returns the absolute repository root.
func (e *Extractor) Root() string { return e.root }

// Name returns the repository name, the base name of its root.
func (e *Extractor) Name() string { return filepath.Base(e.root) }

// Index returns the repository index, from the cache when one is configured.
func (e *Extractor) Index(ctx context.Context) (*index.Index, error) {
	if e.opts.Cache != nil {
		return e.opts.Cache.Get(ctx, e.root)
	}
	return index.Build(ctx, e.root, e.opts.Index)
}

// ExtractRepo expands every top-level function of every module in the
// repository. Modules are ordered by path.
func (e *Extractor) ExtractRepo(ctx context.Context) (*model.Extraction, error) {
	idx, err := e.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", e.root, err)
	}
	paths, err := discover.Modules(e.root, e.opts.Index.Options)
	if err != nil {
		return nil, fmt.Errorf("enumerating modules: %w", err)
	}

	r := e.newRun(ctx, idx)
	defer r.close()
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.extractModule(path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x := &model.Extraction{RepoName: e.Name(), Root: e.root}
	for _, path := range paths {
		x.Modules = append(x.Modules, r.module(path))
	}
	e.log.Debug("extracted repository", "root", e.root, "modules", len(paths), "nodes", len(r.memo))
	return x, nil
}

// ExtractFile expands the top-level functions of one file. A relative path
// is taken from the repository root. An unreadable file yields an empty module.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (*model.Module, error) {
	idx, err := e.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", e.root, err)
	}
	path = e.abs(path)

	r := e.newRun(ctx, idx)
	defer r.close()
	r.extractModule(path)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.module(path), nil
}

// ExtractFunction expands the top-level function name defined in path.
func (e *Extractor) ExtractFunction(ctx context.Context, path, name string) (*model.Function, error) {
	idx, err := e.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", e.root, err)
	}
	path = e.abs(path)

	r := e.newRun(ctx, idx)
	defer r.close()
	f, err := r.file(path)
	if err != nil {
		return nil, err
	}
	for _, node := range lang.Descendants(f.root(), lang.TopLevelFunctions) {
		if parse.DefinitionName(node, f.source) == name {
			fn := r.function(f, node)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrFunctionNotFound, name, path)
}

func (e *Extractor) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.root, path)
}
