// Package index builds the repository index: a tree mirroring the directory
// layout whose file leaves record each module's top-level bound names.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/phobologic/pyclosure/internal/discover"
	"github.com/phobologic/pyclosure/internal/lang"
	"github.com/phobologic/pyclosure/internal/parse"
)

// DefaultMaxFileSize is the largest file whose bindings are computed.
const DefaultMaxFileSize = 1_000_000 // 1 MB

// Entry is a directory or source file in the index.
// Children of a directory are keyed by base name, extension included.
type Entry struct {
	Name     string            `json:"name"`
	Path     string            `json:"path"`
	Dir      bool              `json:"dir,omitempty"`
	Children map[string]*Entry `json:"children,omitempty"`
	// Bindings are the sorted top-level names of a file.
	Bindings []string `json:"bindings,omitempty"`
}

// Child returns the named child, or nil.
func (e *Entry) Child(name string) *Entry {
	if e == nil || e.Children == nil {
		return nil
	}
	return e.Children[name]
}

// Binds reports whether the file binds name at its top level.
func (e *Entry) Binds(name string) bool {
	if e == nil {
		return false
	}
	i := sort.SearchStrings(e.Bindings, name)
	return i < len(e.Bindings) && e.Bindings[i] == name
}

// SortedChildren returns the children ordered by name.
func (e *Entry) SortedChildren() []*Entry {
	out := make([]*Entry, 0, len(e.Children))
	for _, c := range e.Children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Index is a built repository index. It is read-only after Build or Load
// and safe for concurrent readers.
type Index struct {
	Root       *Entry   `json:"root"`
	Extensions []string `json:"extensions"`

	byPath map[string]*Entry
}

// Name is the repository name, the base name of the root directory.
func (idx *Index) Name() string {
	return filepath.Base(idx.Root.Path)
}

// Lookup returns the entry at an absolute path, or nil.
func (idx *Index) Lookup(path string) *Entry {
	return idx.byPath[filepath.Clean(path)]
}

func (idx *Index) reindex() {
	idx.byPath = make(map[string]*Entry)
	var walk func(e *Entry)
	walk = func(e *Entry) {
		idx.byPath[e.Path] = e
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(idx.Root)
}

// Options configures Build.
type Options struct {
	discover.Options
	// MaxFileSize skips binding extraction for larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int64
	// Workers is the number of parsing goroutines. Zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Build walks root and returns its index. Entries whose name starts with an
// excluded prefix or that match an exclude pattern are left out; .gitignore
// is not consulted since ignored modules may still be imported.
// Unreadable or oversized files are indexed with no bindings.
func Build(ctx context.Context, root string, opts Options) (*Index, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	fopts := opts.Options
	fopts.RespectGitignore = false
	filter, err := discover.NewFilter(root, fopts)
	if err != nil {
		return nil, err
	}

	top := &Entry{Name: filepath.Base(root), Path: root, Dir: true, Children: map[string]*Entry{}}
	dirs := map[string]*Entry{root: top}
	var files []*Entry

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if filter.SkipName(d.Name()) || filter.Excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		parent := dirs[filepath.Dir(path)]
		if parent == nil {
			return nil
		}

		if d.IsDir() {
			e := &Entry{Name: d.Name(), Path: path, Dir: true, Children: map[string]*Entry{}}
			parent.Children[e.Name] = e
			dirs[path] = e
			return nil
		}
		if !filter.HasExtension(d.Name()) {
			return nil
		}
		e := &Entry{Name: d.Name(), Path: path}
		parent.Children[e.Name] = e
		files = append(files, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	if err := computeBindings(ctx, files, opts); err != nil {
		return nil, err
	}

	idx := &Index{Root: top, Extensions: opts.Extensions}
	idx.reindex()
	opts.logger().Debug("built index", "root", root, "files", len(files))
	return idx, nil
}

// computeBindings fills Bindings for every file using a pool of workers,
// each with its own parser.
func computeBindings(ctx context.Context, files []*Entry, opts Options) error {
	if len(files) == 0 {
		return nil
	}
	log := opts.logger()
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan *Entry, len(files))
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parser := lang.Python().NewParser()
			defer parser.Close()

			for e := range work {
				if ctx.Err() != nil {
					continue
				}
				if fi, err := os.Stat(e.Path); err == nil && fi.Size() > maxSize {
					log.Warn("skipping large file", "path", e.Path, "size", fi.Size(), "limit", maxSize)
					continue
				}
				source, err := os.ReadFile(e.Path)
				if err != nil {
					log.Debug("unreadable file", "path", e.Path, "err", err)
					continue
				}
				tree, err := lang.Parse(ctx, parser, source)
				if err != nil {
					log.Debug("unparseable file", "path", e.Path, "err", err)
					continue
				}
				e.Bindings = parse.TopLevelBindings(tree.RootNode(), source)
				tree.Close()
			}
		}()
	}

	for _, e := range files {
		work <- e
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	return nil
}

// Save writes idx as indented JSON to <dir>/<name>.json and returns the path.
func Save(idx *Index, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(idx, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encoding index: %w", err)
	}
	path := filepath.Join(dir, idx.Name()+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing index: %w", err)
	}
	return path, nil
}

// Load reads an index written by Save.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	if idx.Root == nil {
		return nil, fmt.Errorf("decoding index %s: missing root", path)
	}
	idx.reindex()
	return &idx, nil
}
