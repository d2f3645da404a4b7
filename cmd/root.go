package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputMode string
	jsonOutput bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pagepocket",
	Short: "Capture web pages into self-contained, replayable offline snapshots",
	Long: `pagepocket - offline page snapshot tool

Captures every network resource a page loads, stores it under configurable
limits, and rebuilds the page as a self-contained file tree whose API calls
replay from recorded data instead of the live network.

Capture:
  pagepocket capture https://example.com --fixture trace.ndjson
  pagepocket capture https://example.com --fixture trace.ndjson --follow

Build:
  pagepocket build latest --out ./snapshot
  pagepocket build 20240115-093000 --out ./snapshot

Sessions:
  pagepocket sessions                  List saved capture archives

Output modes (--output):
  compact   Human-readable summaries (default)
  json      Raw JSON for piping to other tools`,
}

// Execute adds all child commands to the root command
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "compact", "Output mode: compact, json")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON (shorthand for --output json)")
}

// getOutputMode returns the current output mode
func getOutputMode() string {
	if jsonOutput {
		return "json"
	}
	return outputMode
}
