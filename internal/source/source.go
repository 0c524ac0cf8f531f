// Package source turns a repository argument into a local directory,
// cloning remote repositories with go-git when needed.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

var (
	// ErrEmptySource is returned for an empty repository argument.
	ErrEmptySource = errors.New("repository source cannot be empty")
	// ErrNotRepository is returned when a path is expected to hold a git repository and does not.
	ErrNotRepository = errors.New("not a git repository")
)

type options struct {
	depth int
	log   *slog.Logger
}

// Option configures Acquire.
type Option func(*options)

// WithDepth limits the clone to the last n commits.
func WithDepth(n int) Option {
	return func(o *options) { o.depth = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Acquire returns a local directory for src. A local path must be an
// existing directory and is returned as an absolute path. A clone URL is
// cloned into cloneDir/<name>; an earlier clone there is reused.
func Acquire(ctx context.Context, src, cloneDir string, opts ...Option) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", ErrEmptySource
	}
	o := options{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(src)
	switch {
	case err == nil && info.IsDir():
		return filepath.Abs(src)
	case err == nil:
		return "", fmt.Errorf("repository %s: not a directory", src)
	case !IsRemote(src):
		return "", fmt.Errorf("repository %s: %w", src, err)
	}

	dest, err := filepath.Abs(filepath.Join(cloneDir, RepoName(src)))
	if err != nil {
		return "", fmt.Errorf("resolving clone directory: %w", err)
	}

	if _, err := os.Stat(dest); err == nil {
		if _, err := gogit.PlainOpen(dest); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrNotRepository, dest, err)
		}
		o.log.Debug("reusing clone", "src", src, "dir", dest)
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating clone directory: %w", err)
	}
	o.log.Info("cloning repository", "src", src, "dir", dest)
	_, err = gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
		URL:   src,
		Depth: o.depth,
	})
	if err != nil {
		// Leave nothing behind that a later call would mistake for a clone.
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("cloning %s: %w", src, err)
	}
	return dest, nil
}

var scpLike = regexp.MustCompile(`^[\w.-]+@[\w.-]+:`)

// IsRemote reports whether src is a clone URL rather than a local path.
func IsRemote(src string) bool {
	return strings.Contains(src, "://") || scpLike.MatchString(src)
}

// RepoName returns the last path segment of src without a ".git" suffix.
func RepoName(src string) string {
	src = strings.TrimRight(src, "/")
	if i := strings.LastIndexAny(src, "/:"); i >= 0 {
		src = src[i+1:]
	}
	return strings.TrimSuffix(src, ".git")
}

// Revision returns the HEAD commit hash of the repository at dir.
func Revision(dir string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNotRepository, dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD of %s: %w", dir, err)
	}
	return head.Hash().String(), nil
}
