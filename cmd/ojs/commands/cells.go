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
	"github.com/l3aro/go-ojs/pkg/compiler"
)

// CellInfo describes one cell in command output.
type CellInfo struct {
	ID     string   `json:"id"`
	Line   int      `json:"line"`
	Kind   string   `json:"kind"`
	Names  []string `json:"names,omitempty"`
	Source string   `json:"source,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// cellsCmd represents the cells command
var cellsCmd = &cobra.Command{
	Use:   "cells <file>",
	Short: "List the cells of a notebook",
	Long: `Splits a notebook into cells and shows, for each cell, its line, its kind
and the names it defines.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := listCells(cmd.Context(), cfg, logger, args[0])
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, err := json.MarshalIndent(infos, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printCells(cmd.OutOrStdout(), infos)
		return nil
	},
}

func listCells(ctx context.Context, c *config.Config, lg log.Logger, path string) ([]CellInfo, error) {
	nb, out, err := compileFile(ctx, c, lg, path)
	if err != nil {
		return nil, err
	}

	compiled := make(map[string]compiler.CellOutput, len(out.Cells))
	for _, cl := range out.Cells {
		compiled[string(cl.ID)] = cl
	}
	failures := make(map[string]compiler.Diagnostic, len(out.Diagnostics))
	for _, d := range out.Diagnostics {
		failures[string(d.Cell)] = d
	}

	infos := make([]CellInfo, 0, len(nb.Cells))
	for _, cl := range nb.Cells {
		info := CellInfo{ID: string(cl.ID), Line: cl.Line, Source: cl.Source}
		if co, ok := compiled[info.ID]; ok {
			info.Kind = cellKind(co)
			info.Names = co.Names
		} else if d, ok := failures[info.ID]; ok {
			info.Kind = "error"
			info.Error = d.Err.Error()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// cellKind classifies a compiled cell by the definitions it produced.
func cellKind(co compiler.CellOutput) string {
	res := co.Result
	switch {
	case res == nil:
		return "empty"
	case res.Import != nil:
		return "import"
	case len(res.Definitions) == 0:
		return "empty"
	case len(res.Definitions) == 3:
		return "mutable"
	case len(res.Definitions) == 2:
		return "view"
	case res.Definitions[0].Name == "":
		return "anonymous"
	default:
		return "value"
	}
}

func printCells(w io.Writer, infos []CellInfo) {
	for _, info := range infos {
		detail := strings.Join(info.Names, ", ")
		if info.Error != "" {
			detail = info.Error
		}
		fmt.Fprintf(w, "%-4s line %-4d %-9s %s\n", info.ID, info.Line, info.Kind, detail)
	}
}

func init() {
	cellsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
