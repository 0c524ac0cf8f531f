// Package config loads pyclosure settings. Sources are applied in order,
// later ones winning: built-in defaults, a YAML file, a .env file in the
// repository root, then PYCLOSURE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/pyclosure/internal/closure"
	"github.com/phobologic/pyclosure/internal/discover"
	"github.com/phobologic/pyclosure/internal/index"
	"github.com/phobologic/pyclosure/internal/lang"
)

// FileName is the config file looked up in the repository root.
const FileName = ".pyclosure.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PYCLOSURE_"

var (
	// ErrInvalidPattern is returned for an exclude pattern that does not compile.
	ErrInvalidPattern = discover.ErrInvalidPattern
	// ErrInvalidConfig is returned for any other rejected setting.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config holds every tunable setting.
type Config struct {
	Extensions        []string `yaml:"extensions"`
	ExcludePrefixes   []string `yaml:"exclude_prefixes"`
	ExcludePatterns   []string `yaml:"exclude_patterns"`
	RespectGitignore  bool     `yaml:"respect_gitignore"`
	MaxDepth          int      `yaml:"max_depth"`
	TypingIdentifiers []string `yaml:"typing_identifiers"`
	IndexCacheSize    int      `yaml:"index_cache_size"`
	MaxFileSize       int64    `yaml:"max_file_size"`
	Workers           int      `yaml:"workers"`
	CloneDir          string   `yaml:"clone_dir"`
}

// Default returns the built-in settings.
func Default() *Config {
	d := discover.DefaultOptions()
	return &Config{
		Extensions:        d.Extensions,
		ExcludePrefixes:   d.ExcludePrefixes,
		RespectGitignore:  d.RespectGitignore,
		MaxDepth:          closure.DefaultMaxDepth,
		TypingIdentifiers: append([]string(nil), closure.DefaultTypingIdentifiers...),
		IndexCacheSize:    16,
		MaxFileSize:       index.DefaultMaxFileSize,
		CloneDir:          "repos",
	}
}

// Load reads the configuration for the repository at root. path names an
// explicit YAML file; when empty, root/.pyclosure.yaml is used if present.
func Load(root, path string) (*Config, error) {
	return load(root, path, os.LookupEnv)
}

func load(root, path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading config: %w", err)
	}

	dotenv, err := godotenv.Read(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	lists := map[string]*[]string{
		"EXTENSIONS":         &c.Extensions,
		"EXCLUDE_PREFIXES":   &c.ExcludePrefixes,
		"EXCLUDE_PATTERNS":   &c.ExcludePatterns,
		"TYPING_IDENTIFIERS": &c.TypingIdentifiers,
	}
	for key, dst := range lists {
		if v, ok := env(key); ok {
			*dst = splitList(v)
		}
	}

	ints := map[string]*int{
		"MAX_DEPTH":        &c.MaxDepth,
		"INDEX_CACHE_SIZE": &c.IndexCacheSize,
		"WORKERS":          &c.Workers,
	}
	for key, dst := range ints {
		v, ok := env(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidConfig, EnvPrefix, key, v, err)
		}
		*dst = n
	}

	if v, ok := env("MAX_FILE_SIZE"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_FILE_SIZE=%q: %w", ErrInvalidConfig, EnvPrefix, v, err)
		}
		c.MaxFileSize = n
	}
	if v, ok := env("RESPECT_GITIGNORE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sRESPECT_GITIGNORE=%q: %w", ErrInvalidConfig, EnvPrefix, v, err)
		}
		c.RespectGitignore = b
	}
	if v, ok := env("CLONE_DIR"); ok {
		c.CloneDir = strings.TrimSpace(v)
	}
	return nil
}

func splitList(v string) []string {
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate rejects settings the extractor cannot run with.
func (c *Config) Validate() error {
	if len(c.Extensions) == 0 {
		return fmt.Errorf("%w: no extensions", ErrInvalidConfig)
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: extension %q must start with \".\"", ErrInvalidConfig, ext)
		}
		if lang.ForExtension(ext) == "" {
			return fmt.Errorf("%w: unsupported extension %q", ErrInvalidConfig, ext)
		}
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("%w: max_depth must be positive, got %d", ErrInvalidConfig, c.MaxDepth)
	}
	if c.IndexCacheSize <= 0 {
		return fmt.Errorf("%w: index_cache_size must be positive, got %d", ErrInvalidConfig, c.IndexCacheSize)
	}
	if c.MaxFileSize < 0 || c.Workers < 0 {
		return fmt.Errorf("%w: max_file_size and workers must not be negative", ErrInvalidConfig)
	}
	if _, err := discover.CompilePatterns(c.ExcludePatterns); err != nil {
		return err
	}
	return nil
}

// DiscoverOptions returns the traversal settings.
func (c *Config) DiscoverOptions() discover.Options {
	return discover.Options{
		Extensions:       c.Extensions,
		ExcludePrefixes:  c.ExcludePrefixes,
		ExcludePatterns:  c.ExcludePatterns,
		RespectGitignore: c.RespectGitignore,
	}
}

// IndexOptions returns the index build settings.
func (c *Config) IndexOptions(log *slog.Logger) index.Options {
	return index.Options{
		Options:     c.DiscoverOptions(),
		MaxFileSize: c.MaxFileSize,
		Workers:     c.Workers,
		Logger:      log,
	}
}

// ExtractorOptions returns extractor settings sharing cache, which may be nil.
func (c *Config) ExtractorOptions(log *slog.Logger, cache *index.Cache) closure.Options {
	return closure.Options{
		Index:             c.IndexOptions(log),
		MaxDepth:          c.MaxDepth,
		TypingIdentifiers: c.TypingIdentifiers,
		Cache:             cache,
		Logger:            log,
	}
}

// NewCache returns an index cache sized by the configuration.
func (c *Config) NewCache(log *slog.Logger) (*index.Cache, error) {
	return index.NewCache(c.IndexCacheSize, c.IndexOptions(log))
}
