package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/pyclosure/internal/discover"
	"github.com/phobologic/pyclosure/internal/index"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// start runs a watcher over root and returns the channel of reported paths.
func start(t *testing.T, root string, opts Options) <-chan string {
	t.Helper()
	if opts.Extensions == nil {
		opts.Options = discover.DefaultOptions()
	}
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	w, err := New(root, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, path string) error {
			changes <- path
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return changes
}

func receive(t *testing.T, changes <-chan string) string {
	t.Helper()
	select {
	case path := <-changes:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return ""
	}
}

func TestReportsSourceChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := writeFile(t, root, "pkg/a.py", "x = 1\n")
	changes := start(t, root, Options{})

	writeFile(t, root, "pkg/a.py", "x = 2\n")
	assert.Equal(t, path, receive(t, changes))
}

func TestDebounce(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.py", "")
	changes := start(t, root, Options{Debounce: 150 * time.Millisecond})

	for i := 0; i < 3; i++ {
		writeFile(t, root, "a.py", "x = 1\n")
	}
	receive(t, changes)
	select {
	case extra := <-changes:
		t.Fatalf("unexpected second report for %s", extra)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestIgnoresFilteredFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, ".gitignore", "build/\n")
	writeFile(t, root, "build/gen.py", "")
	writeFile(t, root, "__pycache__/a.py", "")
	writeFile(t, root, "tests/test_a.py", "")
	opts := Options{Options: discover.DefaultOptions()}
	opts.ExcludePatterns = []string{"tests/**"}
	changes := start(t, root, opts)

	writeFile(t, root, "notes.txt", "hello")
	writeFile(t, root, "build/gen.py", "x = 1\n")
	writeFile(t, root, "__pycache__/a.py", "x = 1\n")
	writeFile(t, root, "tests/test_a.py", "x = 1\n")
	want := writeFile(t, root, "main.py", "x = 1\n")

	// Only the last write passes the filter.
	assert.Equal(t, want, receive(t, changes))
}

func TestSkipsRemovedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	removed := writeFile(t, root, "a.py", "x = 1\n")
	renamed := writeFile(t, root, "c.py", "x = 1\n")
	changes := start(t, root, Options{})

	require.NoError(t, os.Remove(removed))
	require.NoError(t, os.Rename(renamed, filepath.Join(root, "c.txt")))
	time.Sleep(200 * time.Millisecond)
	want := writeFile(t, root, "b.py", "x = 1\n")

	assert.Equal(t, want, receive(t, changes))
}

func TestWatchesNewDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	changes := start(t, root, Options{})

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	want := filepath.Join(root, "sub", "b.py")
	// The directory is added asynchronously; keep writing until seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(want, []byte("x = 1\n"), 0o644)
		select {
		case got := <-changes:
			return got == want
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestInvalidatesIndexCache(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.py", "def f():\n    pass\n")
	cache, err := index.NewCache(4, index.Options{Options: discover.DefaultOptions()})
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	w, err := New(root, Options{Options: discover.DefaultOptions(), Debounce: 20 * time.Millisecond, Cache: cache})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lens := make(chan int, 1)
	go func() {
		_ = w.Run(ctx, func(_ context.Context, _ string) error {
			lens <- cache.Len()
			cancel()
			return nil
		})
	}()

	writeFile(t, root, "a.py", "def g():\n    pass\n")
	select {
	case n := <-lens:
		assert.Equal(t, 0, n)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"), Options{})
	assert.Error(t, err)

	file := writeFile(t, t.TempDir(), "a.py", "")
	_, err = New(file, Options{})
	assert.Error(t, err)

	opts := Options{Options: discover.DefaultOptions()}
	opts.ExcludePatterns = []string{"[unclosed"}
	_, err = New(t.TempDir(), opts)
	assert.ErrorIs(t, err, discover.ErrInvalidPattern)
}
