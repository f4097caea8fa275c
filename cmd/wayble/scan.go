package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/wayble/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby BLE devices and their match status",
	Long: `Reset the Bluetooth stack and scan for one full scan window, listing every
device seen in discovery order. Devices that would be chosen as a waypoint
target are marked as matched.

Nothing is sent and the last-device cache is left as it is.`,
	RunE: runScan,
}

var (
	scanFormat      string
	scanMatchedOnly bool
)

func init() {
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().BoolVar(&scanMatchedOnly, "matched", false, "Only show devices that match the target rules")
}

func runScan(cmd *cobra.Command, _ []string) error {
	// Validate format parameter
	validFormats := []string{"table", "json"}
	isValidFormat := false
	for _, format := range validFormats {
		if scanFormat == format {
			isValidFormat = true
			break
		}
	}
	if !isValidFormat {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	progress := NewProgressPrinter(rt.errOut, "Scanning for devices")
	progress.Start()
	report, err := rt.engine.ScanDebug(ctx, progress.Callback())
	progress.Stop()
	if err != nil {
		rt.notify(rt.errOut)
		return err
	}

	devices := report.Devices
	if scanMatchedOnly {
		devices = matchedOnly(devices)
	}

	if scanFormat == "json" {
		rt.notify(rt.errOut)
		report.Devices = devices
		return writeJSON(rt.out, report)
	}

	rt.notify(rt.out)
	return displayDevicesTable(rt.out, devices)
}

func matchedOnly(devices []scanner.DiscoveredDevice) []scanner.DiscoveredDevice {
	out := make([]scanner.DiscoveredDevice, 0, len(devices))
	for _, d := range devices {
		if d.Matched {
			out = append(out, d)
		}
	}
	return out
}

func displayDevicesTable(w io.Writer, devices []scanner.DiscoveredDevice) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tADDRESS\tRSSI\tMATCH\tSERVICES")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	for _, d := range devices {
		name := d.DisplayName
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(d.AdvertisedServices, ",")
		if len(services) > 40 {
			services = services[:37] + "..."
		}

		match := ""
		if d.Matched {
			match = "yes"
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%d dBm\t%s\t%s\n",
			d.Order, name, d.ID, d.RSSI, match, services)
	}

	return tw.Flush()
}
