package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-ojs/internal/config"
	"github.com/l3aro/go-ojs/internal/healthcheck"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on configuration and the compiler",
	Long: `Checks the configuration, compiles and evaluates a probe cell, and verifies
that the cache directory and its files are usable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := healthcheck.Check(cmd.Context(), cfg, effectiveConfigPath())
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		displayDoctorResult(cmd.OutOrStdout(), result)

		if !result.OK() {
			return fmt.Errorf("health check failed: one or more components are not usable")
		}
		return nil
	},
}

// effectiveConfigPath returns the highest priority config file that exists.
func effectiveConfigPath() string {
	if path := config.ProjectPath("."); fileExists(path) {
		return path
	}
	if path := config.GlobalPath(); fileExists(path) {
		return path
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func displayDoctorResult(w io.Writer, result *healthcheck.HealthCheckResult) {
	if result.EffectivePath == "" {
		fmt.Fprintln(w, "Using config: defaults (run 'ojs init' to create a config file)")
	} else {
		fmt.Fprintf(w, "Using config: %s (%s)\n", result.EffectivePath, result.EffectiveScope)
	}
	fmt.Fprintln(w)

	for _, c := range result.Components {
		fmt.Fprintf(w, "%s %s: %s\n", formatStatusIcon(c.Status), c.Name, c.Detail)
		if c.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", c.Error)
		}
	}
}

func formatStatusIcon(status string) string {
	switch status {
	case healthcheck.StatusReady:
		return "✓"
	case healthcheck.StatusWarn:
		return "!"
	case healthcheck.StatusError:
		return "✗"
	default:
		return "?"
	}
}
