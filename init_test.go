package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runInit(t *testing.T, args ...string) (string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), append([]string{"init"}, args...), &stdout, &stderr))
	return stdout.String(), stderr.String()
}

func TestApplySection(t *testing.T) {
	t.Parallel()

	section := sentinelStart + "\nnew content\n" + sentinelEnd
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "\n" + section + "\n"},
		{"append", "# Project\n", "# Project\n\n" + section + "\n"},
		{"append without newline", "# Project", "# Project\n\n" + section + "\n"},
		{
			"replace",
			"# Project\n\n" + sentinelStart + "\nold content\n" + sentinelEnd + "\n\n## Other\n",
			"# Project\n\n" + section + "\n\n## Other\n",
		},
		{
			"unterminated block appends",
			"# Project\n" + sentinelStart + "\n",
			"# Project\n" + sentinelStart + "\n\n" + section + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, applySection(tt.content, section))
		})
	}
}

func TestInitCreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "CLAUDE.md")

	_, stderr := runInit(t, path)
	assert.Contains(t, stderr, "wrote pyclosure section")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), sentinelStart)
	assert.Contains(t, string(data), sentinelEnd)
}

func TestInitDryRun(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	existing := "# My Project\n\nSome existing content.\n"
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o644))

	out, _ := runInit(t, "--dry-run", path)
	assert.True(t, strings.HasPrefix(out, existing))
	assert.Contains(t, out, sentinelStart)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, existing, string(data), "--dry-run must not modify the file")
}

func TestInitDryRunNoPath(t *testing.T) {
	t.Parallel()

	out, _ := runInit(t, "--dry-run")
	assert.Equal(t, generateSection()+"\n", out)
}

func TestInitIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "CLAUDE.md")

	runInit(t, path)
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	runInit(t, path)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestInitSectionExamples(t *testing.T) {
	t.Parallel()
	section := generateSection()

	for _, ex := range []string{"--help", "--version", "-f pkg/service.py", "--function", "-n 20", "--format json", "export --db"} {
		assert.Contains(t, section, ex)
	}
}
