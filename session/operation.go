package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/eventbus"
)

// Stage is a state of the send state machine.
type Stage string

const (
	StageIdle         Stage = "IDLE"
	StagePreparing    Stage = "PREPARING"
	StageFastPath     Stage = "FAST_PATH"
	StageScanning     Stage = "SCANNING"
	StageConnecting   Stage = "CONNECTING"
	StageDiscovering  Stage = "DISCOVERING"
	StageTransmitting Stage = "TRANSMITTING"
	StageTerminated   Stage = "TERMINATED"
)

// ProgressFunc is called on every state transition of an operation
type ProgressFunc func(stage Stage)

// operation tracks one externally triggered verb from start to its single outcome.
type operation struct {
	id       string
	kind     eventbus.Operation
	stage    Stage
	started  time.Time
	progress ProgressFunc
	bus      eventbus.Publisher
	log      *logrus.Entry
}

func (e *Engine) begin(kind eventbus.Operation, progress ProgressFunc) *operation {
	id := uuid.NewString()
	if progress == nil {
		progress = func(Stage) {} // No-op callback
	}
	return &operation{
		id:       id,
		kind:     kind,
		stage:    StageIdle,
		started:  time.Now(),
		progress: progress,
		bus:      e.bus,
		log: e.logger.WithFields(logrus.Fields{
			"op_id":     id,
			"operation": kind,
		}),
	}
}

func (o *operation) enter(stage Stage) {
	o.stage = stage
	o.log.WithField("stage", stage).Debug("State transition")
	o.progress(stage)
	o.bus.Publish(eventbus.TopicProgress, eventbus.Progress{OpID: o.id, State: string(stage)})
}

// end moves the operation to TERMINATED and publishes its one outcome. A
// failure is wrapped with the stage it happened in.
func (o *operation) end(err error, device, message string) error {
	failedAt := o.stage
	o.enter(StageTerminated)

	outcome := eventbus.Outcome{
		OpID:      o.id,
		Operation: o.kind,
		Device:    device,
		At:        time.Now(),
	}
	elapsed := time.Since(o.started).Round(time.Millisecond)

	if err == nil {
		outcome.Succeeded = true
		outcome.Message = message
		o.log.WithFields(logrus.Fields{
			"device":  device,
			"elapsed": elapsed,
		}).Info("Operation succeeded")
		o.bus.Publish(eventbus.TopicOutcome, outcome)
		return nil
	}

	wrapped := wrapFailure(err, o.id, o.kind, failedAt)
	outcome.Stage = string(failedAt)
	outcome.Message = UserMessage(wrapped)
	o.log.WithFields(logrus.Fields{
		"stage":   failedAt,
		"elapsed": elapsed,
		"error":   err,
	}).Error("Operation failed")
	o.bus.Publish(eventbus.TopicOutcome, outcome)
	return wrapped
}
