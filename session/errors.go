package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/srg/wayble/internal/device"
	"github.com/srg/wayble/internal/eventbus"
	"github.com/srg/wayble/internal/route"
	"github.com/srg/wayble/pkg/connection"
	"github.com/srg/wayble/pkg/transport"
	"github.com/srg/wayble/scanner"
)

var (
	ErrOperationInProgress = errors.New("operation in progress")
	ErrResetFailed         = errors.New("radio stack reset failed")
)

// Error kinds that have no ftag counterpart.
const (
	KindBusy     ftag.Kind = "BUSY"
	KindRadioOff ftag.Kind = "RADIO_OFF"
)

// wrapFailure attaches the failing stage, the operation id and a user-facing
// description. The sentinel chain stays reachable through errors.Is.
func wrapFailure(err error, opID string, op eventbus.Operation, stage Stage) error {
	kind, desc := describe(err, stage)
	return fault.Wrap(err,
		fctx.With(context.Background(),
			"op_id", opID,
			"operation", string(op),
			"stage", string(stage),
		),
		ftag.With(kind),
		fmsg.WithDesc(fmt.Sprintf("%s failed while %s", op, stage.verb()), desc),
	)
}

// UserMessage returns the single human-readable description of a failure.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if issue := fmsg.GetIssue(err); issue != "" {
		return issue
	}
	_, desc := describe(err, "")
	return desc
}

// StageOf returns the stage an engine operation failed in, or "" for errors
// that did not come from the engine.
func StageOf(err error) Stage {
	if err == nil {
		return ""
	}
	return Stage(fctx.Unwrap(err)["stage"])
}

// KindOf returns the error kind of an engine failure.
func KindOf(err error) ftag.Kind {
	return ftag.Get(err)
}

func describe(err error, stage Stage) (ftag.Kind, string) {
	var chunkErr *transport.ChunkWriteError

	switch {
	case errors.Is(err, ErrOperationInProgress):
		return KindBusy, "Another Bluetooth operation is already running. Try again when it finishes."
	case errors.Is(err, route.ErrInsufficientWaypoints):
		return ftag.InvalidArgument, "At least two waypoints are needed to send a route."
	case errors.Is(err, route.ErrInvalidCoordinate):
		return ftag.InvalidArgument, "A waypoint is outside the valid latitude/longitude range."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ftag.Cancelled, "The operation was cancelled before it finished."
	case errors.Is(err, device.ErrBluetoothOff):
		return KindRadioOff, "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, scanner.ErrNoDeviceFound):
		return ftag.NotFound, "No navigation device was found nearby."
	case errors.Is(err, scanner.ErrScan):
		return ftag.Internal, "Scanning for the navigation device failed."
	case errors.Is(err, connection.ErrConnectionFailed):
		return ftag.Internal, "Could not connect to the navigation device."
	case errors.Is(err, connection.ErrNoWritableCharacteristic):
		return ftag.NotFound, "The device does not accept route data."
	case errors.As(err, &chunkErr):
		return ftag.Internal, fmt.Sprintf("Sending the route stopped at part %d of %d.", chunkErr.Index+1, chunkErr.Total)
	case errors.Is(err, ErrResetFailed):
		return ftag.Internal, "Resetting the Bluetooth stack failed."
	}

	if stage == "" {
		return ftag.Internal, "The Bluetooth operation failed."
	}
	return ftag.Internal, fmt.Sprintf("The Bluetooth operation failed while %s.", stage.verb())
}

// verb renders a stage for messages: "CONNECTING" -> "connecting".
func (s Stage) verb() string {
	switch s {
	case StageFastPath:
		return "reusing the last device"
	case StageTerminated, StageIdle:
		return "finishing"
	case "":
		return "starting"
	default:
		return strings.ToLower(string(s))
	}
}
