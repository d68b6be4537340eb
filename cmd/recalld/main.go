// Recalld is a context-aware conversational memory daemon.
//
// It stores conversational turns across tiered backends, retrieves the
// memories relevant to a new message, scores memories by importance,
// detects recurring patterns, and enforces privacy boundaries between
// conversational contexts.
//
// Configuration is loaded from a YAML file plus RECALLD_* environment
// overrides. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	recalld serve
//
//	# Use an explicit config file
//	recalld serve --config /etc/recalld/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Conversational memory daemon with privacy boundaries",
	Long: `recalld stores and retrieves conversational memory for chat agents.
Memories are tagged with the context they were captured in, and boundary
rules decide whether a memory may surface in another context.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/recalld/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show detailed version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recalld\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
