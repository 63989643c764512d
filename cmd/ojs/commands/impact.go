package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-ojs/internal/config"
	"github.com/l3aro/go-ojs/internal/log"
)

// AffectedCell is a cell recomputed when the target name changes.
type AffectedCell struct {
	ID    string   `json:"id"`
	Line  int      `json:"line"`
	Names []string `json:"names,omitempty"`
}

// ImpactOutput represents the output of the impact command
type ImpactOutput struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	Affected []AffectedCell `json:"affected"`
	Count    int            `json:"count"`
}

// impactCmd represents the impact command
var impactCmd = &cobra.Command{
	Use:   "impact <file> <name>",
	Short: "Find the cells recomputed when a name changes",
	Long: `Lists the cell defining the name and every cell that reads it, directly or
through other cells, in notebook order.

Examples:
  ojs impact chart.ojs data
  ojs impact chart.ojs "viewof n"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := runImpact(cmd.Context(), cfg, logger, args[0], args[1])
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
		printImpact(cmd.OutOrStdout(), output)
		return nil
	},
}

func runImpact(ctx context.Context, c *config.Config, lg log.Logger, path, name string) (*ImpactOutput, error) {
	g, err := loadGraph(ctx, c, lg, path)
	if err != nil {
		return nil, err
	}
	ids := g.Downstream(name)
	if ids == nil {
		return nil, fmt.Errorf("%s does not define %q", path, name)
	}

	output := &ImpactOutput{Name: name, Path: path, Affected: []AffectedCell{}}
	for _, id := range ids {
		n, _ := g.Node(id)
		output.Affected = append(output.Affected, AffectedCell{ID: string(n.ID), Line: n.Line, Names: n.Names})
	}
	output.Count = len(output.Affected)
	return output, nil
}

func printImpact(w io.Writer, output *ImpactOutput) {
	fmt.Fprintf(w, "=== Impact Analysis: %s ===\n\n", output.Name)
	fmt.Fprintf(w, "Notebook: %s\n", output.Path)
	fmt.Fprintf(w, "Found %d affected cell(s)\n\n", output.Count)
	for _, a := range output.Affected {
		fmt.Fprintf(w, "  cell %s (line %d) %s\n", a.ID, a.Line, nameList(a.Names))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func init() {
	impactCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
