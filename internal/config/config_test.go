package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := load(t.TempDir(), "", env(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{".py"}, cfg.Extensions)
	assert.Equal(t, []string{".git", "__pycache__"}, cfg.ExcludePrefixes)
	assert.True(t, cfg.RespectGitignore)
	assert.Equal(t, 200, cfg.MaxDepth)
	assert.Equal(t, 16, cfg.IndexCacheSize)
	assert.Equal(t, "repos", cfg.CloneDir)
	assert.Contains(t, cfg.TypingIdentifiers, "Optional")
}

func TestYAMLFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, FileName, `
extensions: [".py", ".pyi"]
exclude_patterns: ["tests/**"]
respect_gitignore: false
max_depth: 50
`)

	cfg, err := load(root, "", env(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{".py", ".pyi"}, cfg.Extensions)
	assert.Equal(t, []string{"tests/**"}, cfg.ExcludePatterns)
	assert.False(t, cfg.RespectGitignore)
	assert.Equal(t, 50, cfg.MaxDepth)
	// Untouched fields keep their defaults.
	assert.Equal(t, []string{".git", "__pycache__"}, cfg.ExcludePrefixes)
}

func TestExplicitPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := writeFile(t, t.TempDir(), "custom.yaml", "max_depth: 7\n")

	cfg, err := load(root, path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxDepth)

	_, err = load(root, filepath.Join(root, "missing.yaml"), env(nil))
	assert.Error(t, err)
}

func TestPrecedence(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, FileName, "max_depth: 50\nclone_dir: from-yaml\n")
	writeFile(t, root, ".env", "PYCLOSURE_MAX_DEPTH=60\nPYCLOSURE_CLONE_DIR=from-dotenv\n")

	cfg, err := load(root, "", env(map[string]string{
		"PYCLOSURE_MAX_DEPTH":         "70",
		"PYCLOSURE_EXCLUDE_PREFIXES":  ".git, venv ,",
		"PYCLOSURE_RESPECT_GITIGNORE": "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.MaxDepth)
	assert.Equal(t, "from-dotenv", cfg.CloneDir)
	assert.Equal(t, []string{".git", "venv"}, cfg.ExcludePrefixes)
	assert.False(t, cfg.RespectGitignore)
}

func TestInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr error
	}{
		{"extension without dot", "extensions: [py]\n", nil, ErrInvalidConfig},
		{"unsupported extension", "extensions: [.rb]\n", nil, ErrInvalidConfig},
		{"zero depth", "max_depth: 0\n", nil, ErrInvalidConfig},
		{"bad pattern", "exclude_patterns: [\"[unclosed\"]\n", nil, ErrInvalidPattern},
		{"bad env int", "", map[string]string{"PYCLOSURE_WORKERS": "many"}, ErrInvalidConfig},
		{"bad env bool", "", map[string]string{"PYCLOSURE_RESPECT_GITIGNORE": "maybe"}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			if tt.yaml != "" {
				writeFile(t, root, FileName, tt.yaml)
			}
			_, err := load(root, "", env(tt.env))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, FileName, "max_depth: [\n")
	_, err := load(root, "", env(nil))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.ExcludePatterns = []string{"build/**"}
	cfg.MaxDepth = 9

	opts := cfg.ExtractorOptions(nil, nil)
	assert.Equal(t, 9, opts.MaxDepth)
	assert.Equal(t, []string{"build/**"}, opts.Index.ExcludePatterns)
	assert.Equal(t, cfg.MaxFileSize, opts.Index.MaxFileSize)

	cache, err := cfg.NewCache(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Len())
}
