package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/l3aro/go-ojs/internal/config"
	"github.com/l3aro/go-ojs/internal/log"
	"github.com/l3aro/go-ojs/internal/scanner"
	"github.com/l3aro/go-ojs/pkg/cache"
	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/compiler"
	"github.com/l3aro/go-ojs/pkg/dirty"
	"github.com/l3aro/go-ojs/pkg/notebook"
	"github.com/l3aro/go-ojs/pkg/writer"
)

// compileOptions are the flags of the compile command.
type compileOptions struct {
	OutDir string
	Stdout bool
	Force  bool
}

// target is one notebook to compile.
type target struct {
	path   string // as given or found by the scanner
	output string
}

// DiagnosticInfo is a cell error in command output.
type DiagnosticInfo struct {
	Cell    string `json:"cell"`
	Line    int    `json:"line"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CompileResult reports the outcome for one notebook.
type CompileResult struct {
	Path        string           `json:"path"`
	Output      string           `json:"output,omitempty"`
	Cells       int              `json:"cells"`
	Cached      int              `json:"cached"`
	Skipped     bool             `json:"skipped,omitempty"`
	Diagnostics []DiagnosticInfo `json:"diagnostics,omitempty"`

	program string
}

// compileCmd represents the compile command
var compileCmd = &cobra.Command{
	Use:   "compile [paths...]",
	Short: "Compile notebooks into JavaScript modules",
	Long: `Compiles .ojs and .omd notebooks into ES modules for the Observable runtime.
Directories are scanned for notebooks, honoring .ojsignore files. Notebooks that
did not change since their last compilation are skipped unless --force is set.

Examples:
  ojs compile
  ojs compile notebooks/ --out dist
  ojs compile chart.ojs --stdout`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		opts := compileOptions{}
		opts.OutDir, _ = cmd.Flags().GetString("out")
		opts.Stdout, _ = cmd.Flags().GetBool("stdout")
		opts.Force, _ = cmd.Flags().GetBool("force")
		if opts.OutDir == "" {
			opts.OutDir = cfg.OutputDir
		}

		results, err := runCompile(cmd.Context(), cfg, logger, args, opts)
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		} else if opts.Stdout {
			printPrograms(cmd.OutOrStdout(), results)
		} else {
			printCompile(cmd.OutOrStdout(), results)
		}

		if n := failed(results); n > 0 {
			return fmt.Errorf("%d notebook(s) had cell errors", n)
		}
		return nil
	},
}

// runCompile compiles the notebooks named by paths concurrently. Cell errors
// are reported in the results; only setup failures and cancellation return
// an error.
func runCompile(ctx context.Context, c *config.Config, lg log.Logger, paths []string, opts compileOptions) ([]*CompileResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	targets, err := collectTargets(c, paths, opts.OutDir)
	if err != nil {
		return nil, err
	}

	cc := cache.New(cache.Options{MaxEntries: c.CacheSize})
	cachePath := filepath.Join(c.CacheDir, cache.DefaultFile)
	if err := cc.LoadFile(cachePath); err != nil {
		lg.Warn("ignoring unreadable compile cache", "path", cachePath, "err", err)
	}
	tracker := dirty.New(c.CacheDir, dirty.WithFingerprint(c.Fingerprint()))
	if err := tracker.Load(); err != nil {
		lg.Warn("ignoring unreadable build state", "err", err)
	}

	comp := compiler.New(
		compiler.WithCache(cc),
		compiler.WithLogger(lg),
		compiler.WithWriterOptions(writer.WithOrigin(c.RemoteOrigin, c.RemoteVersion)),
	)

	results := make([]*CompileResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			res, err := compileOne(gctx, comp, tracker, t, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, gone := range tracker.Prune() {
		lg.Debug("forgot removed notebook", "path", gone)
	}
	if err := tracker.Save(); err != nil {
		return nil, fmt.Errorf("saving build state: %w", err)
	}
	if err := cc.SaveFile(cachePath); err != nil {
		return nil, fmt.Errorf("saving compile cache: %w", err)
	}
	stats := cc.Stats()
	lg.Debug("compile cache", "entries", stats.Length, "hits", stats.HitCount, "misses", stats.MissCount)
	return results, nil
}

func compileOne(ctx context.Context, comp *compiler.Compiler, tracker *dirty.Tracker, t target, opts compileOptions) (*CompileResult, error) {
	res := &CompileResult{Path: t.path}
	if !opts.Stdout {
		res.Output = t.output
	}

	stale, hash, err := tracker.Stale(t.path, t.output)
	if err != nil {
		return nil, err
	}
	if !stale && !opts.Force && !opts.Stdout {
		res.Skipped = true
		return res, nil
	}

	nb, err := notebook.Load(t.path)
	if err != nil {
		return nil, err
	}
	out, err := comp.Compile(ctx, nb)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", t.path, err)
	}

	res.Cells = len(out.Cells)
	for _, cl := range out.Cells {
		if cl.Cached {
			res.Cached++
		}
	}
	res.Diagnostics = diagnostics(out)

	if opts.Stdout {
		res.program = out.Program
		return res, nil
	}
	if err := os.MkdirAll(filepath.Dir(t.output), 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(t.output, []byte(out.Program), 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", t.output, err)
	}
	// Notebooks with cell errors stay stale so they are retried.
	if out.OK() {
		if err := tracker.MarkCompiled(t.path, hash, t.output); err != nil {
			return nil, err
		}
	} else {
		tracker.Forget(t.path)
	}
	return res, nil
}

// collectTargets expands directories into the notebooks they contain and
// assigns each notebook its output path.
func collectTargets(c *config.Config, paths []string, outDir string) ([]target, error) {
	opts := scanner.DefaultOptions()
	opts.Extensions = c.Extensions
	opts.IgnoreFileName = c.IgnoreFileName
	sc := scanner.New(opts)

	var targets []target
	seen := make(map[string]bool)
	add := func(path, root string) {
		if seen[path] {
			return
		}
		seen[path] = true
		targets = append(targets, target{path: path, output: outputPath(outDir, root, path)})
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("path does not exist: %s", p)
		}
		if !info.IsDir() {
			add(p, filepath.Dir(p))
			continue
		}
		files, err := sc.Scan(p)
		if err != nil {
			return nil, fmt.Errorf("scanning directory: %w", err)
		}
		for _, f := range files {
			add(filepath.Join(p, f.Path), p)
		}
	}
	return targets, nil
}

// outputPath returns where the module compiled from path is written. Without
// an output directory the module is written next to the notebook.
func outputPath(outDir, root, path string) string {
	js := strings.TrimSuffix(path, filepath.Ext(path)) + ".js"
	if outDir == "" {
		return js
	}
	rel, err := filepath.Rel(root, js)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(js)
	}
	return filepath.Join(outDir, rel)
}

func diagnostics(out *compiler.Output) []DiagnosticInfo {
	var infos []DiagnosticInfo
	for _, d := range out.Diagnostics {
		infos = append(infos, DiagnosticInfo{
			Cell:    string(d.Cell),
			Line:    fileLine(d),
			Kind:    d.Kind(),
			Message: d.Err.Error(),
		})
	}
	return infos
}

// fileLine returns the notebook line of d, pointing into the cell for syntax
// errors.
func fileLine(d compiler.Diagnostic) int {
	var serr *cell.SyntaxError
	if errors.As(d.Err, &serr) {
		return d.Line + serr.Line - 1
	}
	return d.Line
}

func failed(results []*CompileResult) int {
	n := 0
	for _, r := range results {
		if len(r.Diagnostics) > 0 {
			n++
		}
	}
	return n
}

func printCompile(w io.Writer, results []*CompileResult) {
	compiled, skipped := 0, 0
	for _, r := range results {
		if r.Skipped {
			skipped++
			continue
		}
		compiled++
		fmt.Fprintf(w, "%s -> %s (%d cells, %d cached)\n", r.Path, r.Output, r.Cells, r.Cached)
		for _, d := range r.Diagnostics {
			fmt.Fprintf(w, "  %s:%d: %s error: %s\n", r.Path, d.Line, d.Kind, d.Message)
		}
	}
	fmt.Fprintf(w, "Compiled %d notebook(s), %d unchanged\n", compiled, skipped)
}

func printPrograms(w io.Writer, results []*CompileResult) {
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "// %s\n", r.Path)
		}
		fmt.Fprint(w, r.program)
	}
}

func init() {
	compileCmd.Flags().StringP("out", "o", "", "Output directory (default: next to each notebook)")
	compileCmd.Flags().Bool("stdout", false, "Print modules instead of writing files")
	compileCmd.Flags().BoolP("force", "f", false, "Recompile unchanged notebooks")
	compileCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
