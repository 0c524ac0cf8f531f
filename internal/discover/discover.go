// Package discover enumerates the source modules of a repository.
package discover

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"
)

// ErrInvalidPattern is returned when an exclude pattern does not compile.
var ErrInvalidPattern = errors.New("invalid exclude pattern")

// InitName is the base name of a package initializer file.
const InitName = "__init__"

// Options controls which entries are visited.
type Options struct {
	// Extensions are the source file extensions, including the leading dot.
	Extensions []string
	// ExcludePrefixes skips any file or directory whose name starts with one of them.
	ExcludePrefixes []string
	// ExcludePatterns are glob patterns matched against repo-relative slash paths.
	ExcludePatterns []string
	// RespectGitignore skips modules matched by the root .gitignore.
	RespectGitignore bool
}

// DefaultOptions returns options for a plain Python repository.
func DefaultOptions() Options {
	return Options{
		Extensions:       []string{".py"},
		ExcludePrefixes:  []string{".git", "__pycache__"},
		RespectGitignore: true,
	}
}

// Filter decides whether repository entries are skipped.
type Filter struct {
	opts     Options
	excludes []glob.Glob
	gi       *ignore.GitIgnore
}

// NewFilter compiles opts for the repository at root.
func NewFilter(root string, opts Options) (*Filter, error) {
	excludes, err := CompilePatterns(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	f := &Filter{opts: opts, excludes: excludes}
	if opts.RespectGitignore {
		f.gi = loadGitignore(root)
	}
	return f, nil
}

// CompilePatterns compiles glob patterns using '/' as the separator.
func CompilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// SkipName reports whether a file or directory name starts with an excluded prefix.
func (f *Filter) SkipName(name string) bool {
	for _, prefix := range f.opts.ExcludePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Excluded reports whether the repo-relative path matches an exclude pattern.
// Patterns are tried against the whole path, its base name and every path suffix.
func (f *Filter) Excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	for _, g := range f.excludes {
		if g.Match(rel) || g.Match(parts[len(parts)-1]) {
			return true
		}
		for i := 1; i < len(parts); i++ {
			if g.Match(strings.Join(parts[i:], "/")) {
				return true
			}
		}
	}
	return false
}

// Ignored reports whether the repo-relative path is matched by .gitignore.
func (f *Filter) Ignored(rel string) bool {
	return f.gi != nil && f.gi.MatchesPath(filepath.ToSlash(rel))
}

// HasExtension reports whether name ends in one of the source extensions.
func (f *Filter) HasExtension(name string) bool {
	return HasExtension(name, f.opts.Extensions)
}

// HasExtension reports whether name ends in one of exts.
func HasExtension(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// IsInit reports whether name is a package initializer file.
func IsInit(name string) bool {
	return strings.TrimSuffix(name, filepath.Ext(name)) == InitName
}

// Modules returns the absolute paths of every source module under root,
// sorted. Package initializers are not modules.
func Modules(root string, opts Options) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	filter, err := NewFilter(root, opts)
	if err != nil {
		return nil, err
	}

	var results []string
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

		if d.IsDir() {
			if filter.Ignored(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if !filter.HasExtension(d.Name()) || IsInit(d.Name()) || filter.Ignored(rel) {
			return nil
		}

		results = append(results, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(results)
	return results, nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
