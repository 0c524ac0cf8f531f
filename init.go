package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	sentinelStart = "<!-- pyclosure:start -->"
	sentinelEnd   = "<!-- pyclosure:end -->"
)

// newInitCmd returns the `pyclosure init` command, which writes (or updates)
// a pyclosure usage section in a CLAUDE.md file.
func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "init [path-to-CLAUDE.md]",
		Short: "Write a pyclosure usage section to CLAUDE.md",
		Long: `Write a pyclosure usage section to a CLAUDE.md file. The section is wrapped in
sentinel comments so it can be updated in place on later runs without
touching surrounding content. Creates the file if it does not exist.

path-to-CLAUDE.md defaults to ./CLAUDE.md.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := generateSection()

			// --dry-run with no path: just print the section itself.
			if dryRun && len(args) == 0 {
				_, _ = fmt.Fprintln(stdout, section)
				return nil
			}

			path := "CLAUDE.md"
			if len(args) > 0 {
				path = args[0]
			}
			existing, err := os.ReadFile(path)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			updated := applySection(string(existing), section)

			if dryRun {
				_, _ = fmt.Fprint(stdout, updated)
				return nil
			}
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			_, _ = fmt.Fprintf(stderr, "wrote pyclosure section to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	return cmd
}

// generateSection returns the sentinel-wrapped pyclosure documentation block.
func generateSection() string {
	body := `## pyclosure: Python dependency closures

Before changing a Python function, run ` + "`pyclosure`" + ` via the Bash tool to see
every repository-local definition it depends on: sibling functions, classes,
module-level statements and imported symbols, resolved across files.

**Availability:** Check with ` + "`pyclosure --version`" + ` first; skip gracefully if
not found.

**Run it:**
` + "```" + `bash
pyclosure                                       # whole repository, TOON output
pyclosure -f pkg/service.py                     # one file
pyclosure -f pkg/service.py --function handle   # one function
pyclosure -n 20                                 # 20 most central modules
pyclosure --format json -f pkg/service.py       # nested dependency tree
pyclosure export --db .pyclosure.db             # store the run in SQLite
` + "```" + `

**All flags:** ` + "`pyclosure --help`" + `

**How to use the output:**

1. **Read the ` + "`depends`" + ` column first.** Each function row lists the
   definitions it needs, as ` + "`kind:name`" + `. Read those before the function.

2. **Use ` + "`imports`" + ` to find where a name comes from.** The ` + "`targets`" + `
   column gives the file each import resolved to; an empty value means the
   import is third-party.

3. **Use ` + "`dependencies`" + ` and ` + "`calls`" + ` for impact.** They list which files
   and functions rely on the one you are about to change.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not.
func applySection(content, section string) string {
	if before, rest, ok := strings.Cut(content, sentinelStart); ok {
		if _, after, ok := strings.Cut(rest, sentinelEnd); ok {
			return before + section + after
		}
	}

	// Append, ensuring a blank line separator.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
