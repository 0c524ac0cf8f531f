// pyclosure extracts the repository-local dependency closure of Python
// functions and prints it in TOON or JSON format.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/phobologic/pyclosure/internal/closure"
	"github.com/phobologic/pyclosure/internal/config"
	"github.com/phobologic/pyclosure/internal/graph"
	"github.com/phobologic/pyclosure/internal/index"
	"github.com/phobologic/pyclosure/internal/jsontree"
	"github.com/phobologic/pyclosure/internal/model"
	"github.com/phobologic/pyclosure/internal/source"
	"github.com/phobologic/pyclosure/internal/store"
	"github.com/phobologic/pyclosure/internal/toon"
	"github.com/phobologic/pyclosure/internal/watch"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// globalFlags are shared by every command that reads a repository.
type globalFlags struct {
	configPath string
	cloneDir   string
	verbose    bool
}

// outputFlags select what is extracted and how it is printed.
type outputFlags struct {
	file     string
	function string
	format   string
	top      int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		g           globalFlags
		out         outputFlags
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "pyclosure [repo]",
		Short: "Extract repository-local dependency closures of Python functions",
		Long: `pyclosure expands every top-level function of a Python repository into the
tree of repository-local definitions it depends on: sibling functions,
classes, top-level statements and imported symbols.

repo is a local directory (default ".") or a git URL to clone.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				_, _ = fmt.Fprintf(stdout, "pyclosure %s\n", version)
				return nil
			}
			return runExtract(cmd.Context(), g, out, args, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.Flags().BoolVarP(&showVersion, "version", "V", false, "show version and exit")
	addOutputFlags(root, &out)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default <repo>/"+config.FileName+")")
	pf.StringVar(&g.cloneDir, "clone-dir", "", "directory for cloned repositories (overrides config)")
	pf.BoolVar(&g.verbose, "verbose", false, "log debug output to stderr")

	root.AddCommand(
		newExtractCmd(&g, stdout, stderr),
		newIndexCmd(&g, stdout, stderr),
		newExportCmd(&g, stdout, stderr),
		newWatchCmd(&g, stdout, stderr),
		newInitCmd(stdout, stderr),
	)
	return root
}

func addOutputFlags(cmd *cobra.Command, out *outputFlags) {
	f := cmd.Flags()
	f.StringVarP(&out.file, "file", "f", "", "extract a single file (relative to the repository root)")
	f.StringVar(&out.function, "function", "", "extract a single top-level function of --file")
	f.StringVar(&out.format, "format", "toon", "output format: toon or json")
	f.IntVarP(&out.top, "top", "n", 0, "keep only the N highest-ranked modules")
}

func newExtractCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "extract [repo]",
		Short: "Extract dependency closures (the default command)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), *g, out, args, stdout, stderr)
		},
	}
	addOutputFlags(cmd, &out)
	return cmd
}

func newIndexCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "index [repo]",
		Short: "Build the repository index and save it as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := prepare(cmd.Context(), *g, args, stderr)
			if err != nil {
				return err
			}
			idx, err := index.Build(cmd.Context(), s.root, s.cfg.IndexOptions(s.log))
			if err != nil {
				return err
			}
			path, err := index.Save(idx, dir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "out", "o", ".", "directory to write <repo>.json into")
	return cmd
}

func newExportCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "export [repo]",
		Short: "Extract the repository and store the run in a SQLite database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := prepare(ctx, *g, args, stderr)
			if err != nil {
				return err
			}
			x, err := extract(ctx, s, outputFlags{})
			if err != nil {
				return err
			}
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := db.Save(ctx, x)
			if err != nil {
				return err
			}
			s.log.Info("saved run", "id", id, "modules", len(x.Modules), "db", dbPath)
			_, _ = fmt.Fprintln(stdout, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "pyclosure.db", "SQLite database path")
	return cmd
}

func newWatchCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "watch [repo]",
		Short: "Re-extract modules as they change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := prepare(ctx, *g, args, stderr)
			if err != nil {
				return err
			}
			w, err := watch.New(s.root, watch.Options{
				Options: s.cfg.DiscoverOptions(),
				Cache:   s.cache,
				Logger:  s.log,
			})
			if err != nil {
				return err
			}
			s.log.Info("watching", "root", s.root)
			return w.Run(ctx, func(ctx context.Context, path string) error {
				x, err := extract(ctx, s, outputFlags{file: path})
				if err != nil {
					return err
				}
				return write(stdout, x, format)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "toon", "output format: toon or json")
	return cmd
}

// setup is a loaded configuration bound to one repository.
type setup struct {
	root  string
	cfg   *config.Config
	log   *slog.Logger
	cache *index.Cache
	ex    *closure.Extractor
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// prepare acquires the repository named by args and loads its configuration.
func prepare(ctx context.Context, g globalFlags, args []string, stderr io.Writer) (*setup, error) {
	log := newLogger(stderr, g.verbose)
	src := "."
	if len(args) > 0 {
		src = args[0]
	}

	cloneDir := g.cloneDir
	if cloneDir == "" && source.IsRemote(src) {
		// The clone directory comes from the working directory's config.
		base, err := config.Load(".", g.configPath)
		if err != nil {
			return nil, err
		}
		cloneDir = base.CloneDir
	}
	root, err := source.Acquire(ctx, src, cloneDir, source.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if rev, err := source.Revision(root); err == nil {
		log.Debug("repository revision", "root", root, "head", rev)
	}

	cfg, err := config.Load(root, g.configPath)
	if err != nil {
		return nil, err
	}
	cache, err := cfg.NewCache(log)
	if err != nil {
		return nil, err
	}
	ex, err := closure.New(root, cfg.ExtractorOptions(log, cache))
	if err != nil {
		return nil, err
	}
	return &setup{root: ex.Root(), cfg: cfg, log: log, cache: cache, ex: ex}, nil
}

// extract runs the extraction selected by out and analyzes the result.
func extract(ctx context.Context, s *setup, out outputFlags) (*model.Extraction, error) {
	var x *model.Extraction
	switch {
	case out.function != "" && out.file == "":
		return nil, errors.New("--function requires --file")
	case out.function != "":
		fn, err := s.ex.ExtractFunction(ctx, out.file, out.function)
		if err != nil {
			return nil, err
		}
		x = single(s, &model.Module{Base: model.Base{Path: fn.Path}, Functions: []*model.Function{fn}})
	case out.file != "":
		m, err := s.ex.ExtractFile(ctx, out.file)
		if err != nil {
			return nil, err
		}
		x = single(s, m)
	default:
		var err error
		x, err = s.ex.ExtractRepo(ctx)
		if err != nil {
			return nil, err
		}
		if len(x.Modules) == 0 {
			return nil, fmt.Errorf("no source files found in %s", s.root)
		}
	}

	graph.Analyze(x)
	if out.top > 0 {
		x = graph.Top(x, out.top)
	}
	return x, nil
}

func single(s *setup, m *model.Module) *model.Extraction {
	return &model.Extraction{RepoName: s.ex.Name(), Root: s.root, Modules: []*model.Module{m}}
}

func runExtract(ctx context.Context, g globalFlags, out outputFlags, args []string, stdout, stderr io.Writer) error {
	if err := checkFormat(out.format); err != nil {
		return err
	}
	s, err := prepare(ctx, g, args, stderr)
	if err != nil {
		return err
	}
	x, err := extract(ctx, s, out)
	if err != nil {
		return err
	}
	return write(stdout, x, out.format)
}

func checkFormat(format string) error {
	if format != "toon" && format != "json" {
		return fmt.Errorf("unknown format %q (want toon or json)", format)
	}
	return nil
}

func write(w io.Writer, x *model.Extraction, format string) error {
	if format == "json" {
		return jsontree.Write(w, x)
	}
	_, err := fmt.Fprintln(w, toon.Encode(x))
	return err
}
