package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-ojs/internal/config"
	"github.com/l3aro/go-ojs/internal/log"
	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/compiler"
	"github.com/l3aro/go-ojs/pkg/notebook"
	"github.com/l3aro/go-ojs/pkg/writer"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Report cell errors with source snippets",
	Long: `Compiles a notebook without writing output and prints every cell error.
Syntax errors are shown with the surrounding lines and a caret under the
offending code. Exits with a non-zero status when any cell fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context(), cfg, logger, args[0], cmd.OutOrStdout())
	},
}

// compileFile loads and compiles one notebook without the on-disk cache.
func compileFile(ctx context.Context, c *config.Config, lg log.Logger, path string) (*notebook.Notebook, *compiler.Output, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	nb, err := notebook.Load(path)
	if err != nil {
		return nil, nil, err
	}
	comp := compiler.New(
		compiler.WithLogger(lg),
		compiler.WithWriterOptions(writer.WithOrigin(c.RemoteOrigin, c.RemoteVersion)),
	)
	out, err := comp.Compile(ctx, nb)
	if err != nil {
		return nil, nil, fmt.Errorf("compiling %s: %w", path, err)
	}
	return nb, out, nil
}

func runCheck(ctx context.Context, c *config.Config, lg log.Logger, path string, w io.Writer) error {
	nb, out, err := compileFile(ctx, c, lg, path)
	if err != nil {
		return err
	}
	if out.OK() {
		fmt.Fprintf(w, "%s: %d cells OK\n", path, len(out.Cells))
		return nil
	}

	sources := make(map[cell.ID]string, len(nb.Cells))
	for _, cl := range nb.Cells {
		sources[cl.ID] = cl.Source
	}
	for i, d := range out.Diagnostics {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:%d: %s error in cell %s\n", path, fileLine(d), d.Kind(), d.Cell)
		var serr *cell.SyntaxError
		if errors.As(d.Err, &serr) {
			fmt.Fprint(w, indent(cell.Snippet(sources[d.Cell], serr)))
			continue
		}
		fmt.Fprintf(w, "  %v\n", d.Err)
	}
	return fmt.Errorf("%d of %d cells failed", len(out.Diagnostics), len(nb.Cells))
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "  " + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
