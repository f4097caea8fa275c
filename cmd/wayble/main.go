package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wayble",
	Short: "Send waypoint routes to a BLE navigation device",
	Long: `Deliver an ordered list of geographic waypoints to a nearby BLE navigation
device and inspect the radio while doing so:

- Send a route given as --point flags or a YAML file
- Preview the exact frames that would go on the air (--dry-run)
- Scan and list nearby devices with their match status
- Reset the Bluetooth stack to a known-good state

The device is found by advertised name or service, the route is split into
small writes that fit the link MTU, and a route identical to the last one
delivered goes straight to the same device without a new scan.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("wayble %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	// Add subcommands
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(resetCmd)

	// Global flags
	addRootFlags(rootCmd)
}

func addRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	cmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	// Add -v as a short flag for --version
	cmd.Flags().BoolP("version", "v", false, "Show version information")
}
