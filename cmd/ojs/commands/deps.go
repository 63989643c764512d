package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-ojs/internal/config"
	"github.com/l3aro/go-ojs/internal/log"
	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/depgraph"
)

// DepsOutput represents the output of the deps command
type DepsOutput struct {
	Path       string               `json:"path"`
	Order      []*depgraph.Node     `json:"order"`
	Cycles     [][]cell.ID          `json:"cycles,omitempty"`
	Duplicates map[string][]cell.ID `json:"duplicates,omitempty"`
}

// depsCmd represents the deps command
var depsCmd = &cobra.Command{
	Use:   "deps <file>",
	Short: "Show the dependency graph of a notebook",
	Long: `Lists the cells of a notebook in evaluation order with the names each cell
reads and the cells that define them. Circular definitions and names defined
by more than one cell are reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := runDeps(cmd.Context(), cfg, logger, args[0])
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printDeps(cmd.OutOrStdout(), output)
		return nil
	},
}

// loadGraph compiles path and builds the dependency graph of the cells that
// compiled.
func loadGraph(ctx context.Context, c *config.Config, lg log.Logger, path string) (*depgraph.Graph, error) {
	_, out, err := compileFile(ctx, c, lg, path)
	if err != nil {
		return nil, err
	}
	for _, d := range out.Diagnostics {
		lg.Warn("cell left out of the graph", "path", path, "cell", d.Cell, "err", d.Err)
	}
	return depgraph.Build(out.Cells), nil
}

func runDeps(ctx context.Context, c *config.Config, lg log.Logger, path string) (*DepsOutput, error) {
	g, err := loadGraph(ctx, c, lg, path)
	if err != nil {
		return nil, err
	}
	output := &DepsOutput{
		Path:       path,
		Cycles:     g.Cycles(),
		Duplicates: g.Duplicates,
	}
	for _, id := range g.Order() {
		n, _ := g.Node(id)
		output.Order = append(output.Order, n)
	}
	return output, nil
}

func printDeps(w io.Writer, output *DepsOutput) {
	fmt.Fprintf(w, "=== Dependencies: %s ===\n\n", output.Path)
	for _, n := range output.Order {
		fmt.Fprintf(w, "cell %s (line %d) %s\n", n.ID, n.Line, nameList(n.Names))
		if len(n.DependsOn) > 0 {
			fmt.Fprintf(w, "  depends on: %s\n", idList(n.DependsOn))
		}
		if len(n.External) > 0 {
			fmt.Fprintf(w, "  external:   %s\n", strings.Join(n.External, ", "))
		}
	}

	if len(output.Cycles) > 0 {
		fmt.Fprintln(w, "\nCircular definitions:")
		for _, cycle := range output.Cycles {
			fmt.Fprintf(w, "  %s\n", idList(cycle))
		}
	}
	if len(output.Duplicates) > 0 {
		fmt.Fprintln(w, "\nDuplicate definitions:")
		for _, name := range sortedKeys(output.Duplicates) {
			fmt.Fprintf(w, "  %s: %s\n", name, idList(output.Duplicates[name]))
		}
	}
}

func nameList(names []string) string {
	if len(names) == 0 {
		return "(anonymous)"
	}
	return strings.Join(names, ", ")
}

func idList(ids []cell.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

func init() {
	depsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
