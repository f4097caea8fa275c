// Package transport delivers an encoded route to a peripheral as a sequence of
// small writes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/route"
	"github.com/srg/wayble/pkg/connection"
)

const (
	// DefaultChunkSize is the number of payload characters per write.
	// BLE 4.0/4.1 defines ATT_MTU of 23 bytes (20 bytes payload after ATT header
	// overhead); the firmware buffers one such chunk at a time.
	DefaultChunkSize = route.DefaultChunkSize

	// DefaultChunkDelay is the pause between consecutive writes.
	DefaultChunkDelay = 50 * time.Millisecond
)

var ErrChunkWriteFailed = errors.New("chunk write failed")

// ChunkWriteError reports the first write that failed. Chunks before Index
// were already delivered and are not rolled back.
type ChunkWriteError struct {
	Index int
	Total int
	Err   error
}

func (e *ChunkWriteError) Error() string {
	return fmt.Sprintf("%s: chunk %d of %d: %v", ErrChunkWriteFailed, e.Index+1, e.Total, e.Err)
}

func (e *ChunkWriteError) Is(target error) bool {
	return target == ErrChunkWriteFailed
}

func (e *ChunkWriteError) Unwrap() error {
	return e.Err
}

// Writer is the part of a connection the transmitter needs
type Writer interface {
	Write(ref connection.CharacteristicRef, data []byte) error
}

// Options configures framing and pacing
type Options struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

// DefaultOptions returns the firmware framing defaults
func DefaultOptions() *Options {
	return &Options{
		ChunkSize:  DefaultChunkSize,
		ChunkDelay: DefaultChunkDelay,
	}
}

// Result summarizes a completed transmission
type Result struct {
	Payload string // base64 of the wire string
	Frames  int
	Bytes   int // bytes put on the air
}

// Transmitter writes frames strictly one after another.
type Transmitter struct {
	opts   Options
	logger *logrus.Logger
}

// NewTransmitter creates a Transmitter. A nil opts uses DefaultOptions.
func NewTransmitter(opts *Options, logger *logrus.Logger) *Transmitter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	o := *opts
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return &Transmitter{opts: o, logger: logger}
}

// Transmit encodes wire, splits it into frames and writes each one without
// acknowledgement, pausing ChunkDelay between writes. The first failed write
// aborts the transmission. ctx is only checked before the first write; once
// bytes are on the air the sequence runs to completion or to a failed write.
func (t *Transmitter) Transmit(ctx context.Context, w Writer, ref connection.CharacteristicRef, wire string) (Result, error) {
	payload := route.EncodePayload(wire)
	frames := route.Frames(payload, t.opts.ChunkSize)
	res := Result{Payload: payload}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	t.logger.WithFields(logrus.Fields{
		"characteristic": ref.String(),
		"payload_len":    len(payload),
		"chunks":         len(frames),
	}).Info("Transmitting route")

	for i, frame := range frames {
		if i > 0 && t.opts.ChunkDelay > 0 {
			time.Sleep(t.opts.ChunkDelay)
		}

		if err := w.Write(ref, frame); err != nil {
			t.logger.WithFields(logrus.Fields{
				"chunk": i + 1,
				"total": len(frames),
				"error": err,
			}).Error("Chunk write failed")
			return res, &ChunkWriteError{Index: i, Total: len(frames), Err: err}
		}

		res.Frames++
		res.Bytes += len(frame)
		t.logger.WithFields(logrus.Fields{
			"chunk": i + 1,
			"total": len(frames),
			"size":  len(frame),
		}).Debug("Chunk written")
	}

	return res, nil
}
