package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/phobologic/pyclosure/internal/discover"
)

// Fingerprint summarizes the source files of a repository snapshot.
// A changed fingerprint means a cached index is stale.
type Fingerprint struct {
	Files int
	Size  int64
	// ModTime is the newest modification time in Unix nanoseconds.
	ModTime int64
}

// Snapshot computes the fingerprint of root under opts.
func Snapshot(root string, opts Options) (Fingerprint, error) {
	fopts := opts.Options
	fopts.RespectGitignore = false
	filter, err := discover.NewFilter(root, fopts)
	if err != nil {
		return Fingerprint{}, err
	}

	var fp Fingerprint
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || path == root {
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
		if d.IsDir() || !filter.HasExtension(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fp.Files++
		fp.Size += info.Size()
		if mt := info.ModTime().UnixNano(); mt > fp.ModTime {
			fp.ModTime = mt
		}
		return nil
	})
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprinting %s: %w", root, err)
	}
	return fp, nil
}

type cached struct {
	idx *Index
	fp  Fingerprint
}

// Cache keeps recently used indexes, keyed by absolute root path.
// A cached index is reused while the repository fingerprint is unchanged.
type Cache struct {
	opts    Options
	entries *lru.Cache[string, cached]
}

// NewCache returns a cache holding at most size indexes built with opts.
func NewCache(size int, opts Options) (*Cache, error) {
	entries, err := lru.New[string, cached](size)
	if err != nil {
		return nil, fmt.Errorf("creating index cache: %w", err)
	}
	return &Cache{opts: opts, entries: entries}, nil
}

// Get returns the index for root, building it when absent or stale.
func (c *Cache) Get(ctx context.Context, root string) (*Index, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	fp, err := Snapshot(root, c.opts)
	if err != nil {
		return nil, err
	}
	if hit, ok := c.entries.Get(root); ok && hit.fp == fp {
		c.opts.logger().Debug("index cache hit", "root", root)
		return hit.idx, nil
	}

	idx, err := Build(ctx, root, c.opts)
	if err != nil {
		return nil, err
	}
	c.entries.Add(root, cached{idx: idx, fp: fp})
	return idx, nil
}

// Invalidate drops the cached index for root.
func (c *Cache) Invalidate(root string) {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	c.entries.Remove(root)
}

// Len returns the number of cached indexes.
func (c *Cache) Len() int {
	return c.entries.Len()
}
