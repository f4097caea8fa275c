package main

import (
	"errors"
	"fmt"

	"github.com/srg/wayble/session"
)

// Command-level errors
var (
	// ErrNoWaypoints indicates neither --point nor --file supplied any waypoint.
	ErrNoWaypoints = errors.New("no waypoints given: use --point lat,lon or --file route.yaml")
)

// FormatUserError renders err for the terminal. Engine failures carry the
// stage they stopped in.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if stage := session.StageOf(err); stage != "" {
		return fmt.Sprintf("%s [stage: %s]", err, stage)
	}
	return err.Error()
}
