package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-ojs/internal/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an ojs configuration interactively",
	Long: `Guides you through setting up ojs step by step and writes the result to
the project (./.ojs/config.yaml) or global (~/.ojs/config.yaml) config file.
With --defaults no questions are asked.`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init writes the config, so an invalid existing one must not stop it.
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		useDefaults, _ := cmd.Flags().GetBool("defaults")
		global, _ := cmd.Flags().GetBool("global")

		c := config.DefaultConfig()
		scope := "project"
		if global {
			scope = "global"
		}
		if !useDefaults {
			var err error
			if scope, err = promptConfig(c); err != nil {
				return err
			}
		}

		path := config.ProjectPath(".")
		if scope == "global" {
			path = config.GlobalPath()
		}

		if _, err := os.Stat(path); err == nil && !useDefaults {
			var overwrite bool
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title("Config file exists").
						Description(fmt.Sprintf("Overwrite existing config at %s?", path)).
						Affirmative("Overwrite").
						Negative("Cancel").
						Value(&overwrite),
				),
			)
			if err := form.Run(); err != nil {
				return fmt.Errorf("interactive prompt failed: %w", err)
			}
			if !overwrite {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}

		return writeConfig(cmd.OutOrStdout(), c, path)
	},
}

// promptConfig asks for the settings and returns where to save them.
func promptConfig(c *config.Config) (string, error) {
	concurrency := strconv.Itoa(c.Concurrency)
	extensions := strings.Join(c.Extensions, ",")
	scope := "project"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Output directory").
				Description("Leave empty to write modules next to each notebook").
				Placeholder("dist").
				Value(&c.OutputDir),
			huh.NewInput().
				Title("Notebook extensions").
				Description("Comma-separated").
				Value(&extensions).
				Validate(func(s string) error {
					for _, ext := range strings.Split(s, ",") {
						if !strings.HasPrefix(strings.TrimSpace(ext), ".") {
							return fmt.Errorf("extensions must start with '.'")
						}
					}
					return nil
				}),
			huh.NewInput().
				Title("Parallel compilations").
				Value(&concurrency).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(s); err != nil || n <= 0 {
						return fmt.Errorf("enter a positive number")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Remote notebook origin").
				Description("Where imports like @user/notebook are fetched from").
				Value(&c.RemoteOrigin),
			huh.NewConfirm().
				Title("Log format").
				Affirmative("JSON").
				Negative("Text").
				Value(&c.JSONLogs),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Save Configuration").
				Description("Where to save the configuration file?").
				Options(
					huh.NewOption("Project (./.ojs/config.yaml)", "project"),
					huh.NewOption("Global (~/.ojs/config.yaml)", "global"),
				).
				Value(&scope),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("interactive prompt failed: %w", err)
	}

	c.Concurrency, _ = strconv.Atoi(concurrency)
	c.Extensions = nil
	for _, ext := range strings.Split(extensions, ",") {
		if ext = strings.TrimSpace(ext); ext != "" {
			c.Extensions = append(c.Extensions, ext)
		}
	}
	return scope, nil
}

// writeConfig validates c, saves it to path and prints a preview.
func writeConfig(w io.Writer, c *config.Config, path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.Save(path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Fprintln(w, "=== Configuration ===")
	output := c.OutputDir
	if output == "" {
		output = "(next to each notebook)"
	}
	fmt.Fprintf(w, "Output directory: %s\n", output)
	fmt.Fprintf(w, "Extensions: %s\n", strings.Join(c.Extensions, ", "))
	fmt.Fprintf(w, "Concurrency: %d\n", c.Concurrency)
	fmt.Fprintf(w, "Remote origin: %s\n", c.RemoteOrigin)
	fmt.Fprintf(w, "Configuration saved to: %s\n", path)
	return nil
}

func init() {
	initCmd.Flags().Bool("defaults", false, "Write the default configuration without prompting")
	initCmd.Flags().Bool("global", false, "With --defaults, write the global config")
}
