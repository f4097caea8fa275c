package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/wayble/internal/route"
	"github.com/srg/wayble/session"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a waypoint route to the navigation device",
	Long: `Send an ordered list of waypoints to the nearest navigation device.

The first waypoint is the source and the last one the destination. At least
two waypoints are required. Waypoints come from repeated --point lat,lon
flags, a YAML --file, or both (file first).

The device is the first one advertising a known name or the waypoint
service; when none matches within the scan window the first device seen is
used. Repeating an identical route reuses the last device without scanning.`,
	Example: `  wayble send --point 37.78825,-122.4324 --point 37.789,-122.4325
  wayble send --file route.yaml --dry-run
  wayble send --file route.yaml --repeat 3 --json`,
	RunE: runSend,
}

var (
	sendPoints []string
	sendFile   string
	sendDryRun bool
	sendJSON   bool
	sendRepeat int
)

func init() {
	addSendFlags(sendCmd)
}

func addSendFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&sendPoints, "point", "p", nil, "Waypoint as lat,lon (repeatable, in route order)")
	cmd.Flags().StringVarP(&sendFile, "file", "f", "", "YAML file with a waypoints list")
	cmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Print the encoded frames without touching the radio")
	cmd.Flags().BoolVar(&sendJSON, "json", false, "Print machine-readable JSON")
	cmd.Flags().IntVar(&sendRepeat, "repeat", 1, "Send the route this many times in a row")
}

// dryRunReport is the --dry-run output
type dryRunReport struct {
	Waypoints  int      `json:"waypoints"`
	Wire       string   `json:"wire"`
	Payload    string   `json:"payload"`
	Frames     []string `json:"frames"`
	DistanceKm float64  `json:"distanceKm"`
}

func runSend(cmd *cobra.Command, _ []string) error {
	if sendRepeat < 1 {
		return fmt.Errorf("invalid --repeat %d: must be at least 1", sendRepeat)
	}

	points, err := collectWaypoints(sendFile, sendPoints)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if sendDryRun {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runDryRun(cmd.OutOrStdout(), points, cfg.ChunkSize)
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	results := make([]session.SendResult, 0, sendRepeat)
	for i := 0; i < sendRepeat; i++ {
		progress := NewProgressPrinter(rt.errOut, "Sending route")
		progress.Start()
		res, err := rt.engine.SendRoute(ctx, points, progress.Callback())
		progress.Stop()

		// Keep stdout pure JSON
		if sendJSON {
			rt.notify(rt.errOut)
		} else {
			rt.notify(rt.out)
		}
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	if sendJSON {
		return writeJSON(rt.out, results)
	}
	return printSendSummary(rt.out, results)
}

func runDryRun(w io.Writer, points []route.GeoPoint, chunkSize int) error {
	r, err := route.BuildForSend(points)
	if err != nil {
		return err
	}

	wire := route.Serialize(r)
	payload := route.EncodePayload(wire)
	frames := route.Frames(payload, chunkSize)

	report := dryRunReport{
		Waypoints:  r.Len(),
		Wire:       wire,
		Payload:    payload,
		Frames:     make([]string, len(frames)),
		DistanceKm: route.TotalDistance(r),
	}
	for i, f := range frames {
		report.Frames[i] = string(f)
	}

	if sendJSON {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "Waypoints: %d\n", report.Waypoints)
	fmt.Fprintf(w, "Distance:  %.2f km\n", report.DistanceKm)
	fmt.Fprintf(w, "Wire:      %s\n", report.Wire)
	fmt.Fprintf(w, "Payload:   %s\n", report.Payload)
	fmt.Fprintf(w, "Frames:    %d\n", len(report.Frames))
	for i, f := range report.Frames {
		fmt.Fprintf(w, "  %2d  %s\n", i+1, f)
	}
	return nil
}

// printSendSummary lists delivered routes. Only deliveries that actually used
// the cached device count as fast path; demoted sends count as scans.
func printSendSummary(w io.Writer, results []session.SendResult) error {
	fast := 0
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDEVICE\tPATH\tFRAMES\tBYTES\tELAPSED")
	for i, r := range results {
		path := "scan"
		switch {
		case r.FastPath:
			fast++
			path = "cached"
		case r.Demoted:
			path = "scan (cache miss)"
		case !r.Matched:
			path = "scan (fallback)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			i+1, r.Device, path, r.Frames, r.Bytes, r.Elapsed.Round(1e6))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(results) > 1 {
		fmt.Fprintf(w, "Fast path used %d of %d time(s)\n", fast, len(results))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
