package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-ojs/internal/config"
	"github.com/l3aro/go-ojs/internal/log"
)

var (
	// cfg and logger are set by RootCmd before any subcommand runs.
	cfg    *config.Config
	logger log.Logger = log.Nop()
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "ojs",
	Short: "ojs - Observable notebook compiler",
	Long: `ojs compiles Observable notebooks (.ojs cells and .omd markdown) into
ES modules that define the notebook on the Observable runtime.

Commands:
  compile     Compile notebooks into JavaScript modules
  check       Report cell errors with source snippets
  cells       List the cells of a notebook and the names they define
  deps        Show the dependency graph of a notebook
  impact      Find the cells recomputed when a name changes
  doctor      Check the configuration and the compiler
  init        Create a configuration file interactively

Use "ojs [command] --help" for more information about a command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cmd.Flags().Changed("verbose") {
			loaded.Verbose, _ = cmd.Flags().GetBool("verbose")
		}
		if cmd.Flags().Changed("json-logs") {
			loaded.JSONLogs, _ = cmd.Flags().GetBool("json-logs")
		}
		cfg = loaded
		logger = newLogger(cfg)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return RootCmd.Execute()
}

func newLogger(c *config.Config) log.Logger {
	level := log.InfoLevel
	if c.Verbose {
		level = log.DebugLevel
	}
	return log.New(log.LoggerConfig{Level: level, JSONOutput: c.JSONLogs})
}

func init() {
	RootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	RootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON lines")

	RootCmd.AddCommand(compileCmd)
	RootCmd.AddCommand(checkCmd)
	RootCmd.AddCommand(cellsCmd)
	RootCmd.AddCommand(depsCmd)
	RootCmd.AddCommand(impactCmd)
	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(doctorCmd)
}
