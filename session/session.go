// Package session is the waypoint transmission engine. It owns the radio
// handle, the session cache and the single-flight guard, and runs the send
// state machine:
//
//	IDLE → PREPARING → (FAST_PATH | SCANNING) → CONNECTING → DISCOVERING → TRANSMITTING → TERMINATED
//
// A send whose route equals the last delivered one goes straight to the
// cached device. Anything else resets the radio stack and scans. A fast path
// that cannot connect is demoted to a scan once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
	"github.com/srg/wayble/internal/eventbus"
	"github.com/srg/wayble/internal/matcher"
	"github.com/srg/wayble/internal/route"
	"github.com/srg/wayble/pkg/connection"
	"github.com/srg/wayble/pkg/transport"
	"github.com/srg/wayble/scanner"
)

// Options configures every component the engine drives
type Options struct {
	Matcher    *matcher.Options
	Scan       *scanner.ScanOptions
	Connection *connection.ConnectOptions
	Transport  *transport.Options

	// ResetSettle intervals are waited in order after every stack reset
	ResetSettle []time.Duration
}

// DefaultOptions returns the defaults tuned for the waypoint firmware
func DefaultOptions() *Options {
	return &Options{
		Matcher:     matcher.DefaultOptions(),
		Scan:        scanner.DefaultScanOptions(),
		Connection:  connection.DefaultConnectOptions(),
		Transport:   transport.DefaultOptions(),
		ResetSettle: []time.Duration{time.Second, 500 * time.Millisecond},
	}
}

// SendResult describes a delivered route
type SendResult struct {
	OpID           string                       `json:"opId"`
	Device         device.Descriptor            `json:"device"`
	Characteristic connection.CharacteristicRef `json:"characteristic"`
	Wire           string                       `json:"wire"`
	Payload        string                       `json:"payload"`
	Frames         int                          `json:"frames"`
	Bytes          int                          `json:"bytes"`
	FastPath       bool                         `json:"fastPath"` // delivered to the cached device
	Demoted        bool                         `json:"demoted"`  // fast path failed and a scan took over
	Matched        bool                         `json:"matched"`  // false when the scan fell back to the first device seen
	Elapsed        time.Duration                `json:"elapsed"`
}

// ScanReport is the result of ScanDebug
type ScanReport struct {
	OpID    string                     `json:"opId"`
	Devices []scanner.DiscoveredDevice `json:"devices"`
	Elapsed time.Duration              `json:"elapsed"`
}

// Engine runs send, scan and reset operations one at a time against a single radio.
type Engine struct {
	radio   device.Radio
	opts    Options
	scanner *scanner.Scanner
	conns   *connection.Manager
	tx      *transport.Transmitter
	cache   *Cache
	bus     eventbus.Publisher
	logger  *logrus.Logger

	busy     atomic.Bool
	handle   *connection.Handle // live link of the running operation; touched only under the guard
	counters counters
}

// NewEngine creates an Engine. Nil opts fields use their defaults; a nil bus drops notifications.
func NewEngine(radio device.Radio, opts *Options, bus eventbus.Publisher, logger *logrus.Logger) *Engine {
	o := DefaultOptions()
	if opts != nil {
		if opts.Matcher != nil {
			o.Matcher = opts.Matcher
		}
		if opts.Scan != nil {
			o.Scan = opts.Scan
		}
		if opts.Connection != nil {
			o.Connection = opts.Connection
		}
		if opts.Transport != nil {
			o.Transport = opts.Transport
		}
		if opts.ResetSettle != nil {
			o.ResetSettle = append([]time.Duration(nil), opts.ResetSettle...)
		}
	}
	if bus == nil {
		bus = eventbus.Nil()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Engine{
		radio:    radio,
		opts:     *o,
		scanner:  scanner.NewScanner(radio, matcher.New(o.Matcher, logger), logger),
		conns:    connection.NewManager(radio, o.Connection, logger),
		tx:       transport.NewTransmitter(o.Transport, logger),
		cache:    NewCache(),
		bus:      bus,
		logger:   logger,
		counters: newCounters(),
	}
}

// Cache returns the session cache
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Stats {
	return e.counters.snapshot()
}

// Busy reports whether an operation currently holds the guard
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

func (e *Engine) acquire() bool {
	return e.busy.CompareAndSwap(false, true)
}

// SendRoute validates points and delivers them to the waypoint device.
// Validation failures never touch the radio. Every call publishes exactly one
// outcome; a failure leaves the cache without a device so the next send scans.
func (e *Engine) SendRoute(ctx context.Context, points []route.GeoPoint, progress ProgressFunc) (res SendResult, err error) {
	op := e.begin(eventbus.OpSendRoute, progress)
	res.OpID = op.id
	e.counters.sendsAttempted.Inc()

	held := false
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected failure: %v", p)
		}
		if held {
			e.finish(err)
		}
		if err != nil {
			e.counters.sendsFailed.Inc()
		} else {
			e.counters.sendsSucceeded.Inc()
		}
		res.Elapsed = time.Since(op.started)
		err = op.end(err, res.Device.String(), fmt.Sprintf("Route sent to %s", res.Device))
	}()

	op.enter(StagePreparing)
	r, err := route.BuildForSend(points)
	if err != nil {
		return res, err
	}
	res.Wire = route.Serialize(r)

	if !e.acquire() {
		e.counters.rejected.Inc()
		return res, ErrOperationInProgress
	}
	held = true

	if err := e.ensurePowered(ctx, op); err != nil {
		return res, err
	}

	var (
		h   *connection.Handle
		ref connection.CharacteristicRef
	)

	cached, fast := e.cache.reusable(res.Wire)
	if fast {
		op.enter(StageFastPath)
		e.counters.fastPathHits.Inc()
		e.cleanup(op)

		h, ref, err = e.link(ctx, op, cached)
		switch {
		case err == nil:
			res.FastPath = true
			res.Matched = true
			res.Device = cached
		case ctx.Err() != nil:
			return res, err
		default:
			op.log.WithFields(logrus.Fields{
				"device": cached.String(),
				"error":  err,
			}).Warn("Cached device unreachable, falling back to a fresh scan")
			e.counters.demotions.Inc()
			res.Demoted = true
			h = nil
		}
	}

	if h == nil {
		e.cache.forgetDevice()

		op.enter(StageScanning)
		if err := e.resetStack(ctx, op); err != nil {
			return res, err
		}

		e.counters.scans.Inc()
		found, err := e.scanner.Discover(ctx, e.opts.Scan, nil)
		if err != nil {
			return res, err
		}
		res.Device = found.Device
		res.Matched = found.Matched

		h, ref, err = e.link(ctx, op, found.Device)
		if err != nil {
			return res, err
		}
	}

	res.Characteristic = ref
	op.enter(StageTransmitting)
	sent, err := e.tx.Transmit(ctx, h, ref, res.Wire)
	res.Payload = sent.Payload
	res.Frames = sent.Frames
	res.Bytes = sent.Bytes
	if err != nil {
		return res, err
	}

	e.cache.remember(res.Wire, res.Device)
	return res, nil
}

// ScanDebug resets the radio stack and lists every device seen during one
// full scan window, without sending anything. The cache is left untouched.
func (e *Engine) ScanDebug(ctx context.Context, progress ProgressFunc) (report ScanReport, err error) {
	op := e.begin(eventbus.OpScanDebug, progress)
	report.OpID = op.id

	held := false
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected failure: %v", p)
		}
		if held {
			e.finish(nil)
		}
		report.Elapsed = time.Since(op.started)
		err = op.end(err, "", fmt.Sprintf("Found %d device(s)", len(report.Devices)))
	}()

	op.enter(StagePreparing)
	if !e.acquire() {
		e.counters.rejected.Inc()
		return report, ErrOperationInProgress
	}
	held = true

	if err := e.ensurePowered(ctx, op); err != nil {
		return report, err
	}

	op.enter(StageScanning)
	if err := e.resetStack(ctx, op); err != nil {
		return report, err
	}

	e.counters.scans.Inc()
	devices, err := e.scanner.Survey(ctx, e.opts.Scan, nil)
	if err != nil {
		return report, err
	}
	report.Devices = devices
	return report, nil
}

// ResetRadioStack tears down any live connection, recreates the radio stack
// and clears the whole cache. Call it whenever the waypoint list changes.
func (e *Engine) ResetRadioStack(ctx context.Context) (err error) {
	op := e.begin(eventbus.OpReset, nil)

	held := false
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected failure: %v", p)
		}
		if held {
			e.finish(nil)
		}
		err = op.end(err, "", "Bluetooth stack reset")
	}()

	op.enter(StagePreparing)
	if !e.acquire() {
		e.counters.rejected.Inc()
		return ErrOperationInProgress
	}
	held = true

	e.cache.clear()
	return e.resetStack(ctx, op)
}

// finish runs on every exit path of an operation that holds the guard: any
// live link is released, a failure drops the cached device, and the guard is
// cleared last.
func (e *Engine) finish(err error) {
	defer e.busy.Store(false)

	e.dropHandle()
	if err != nil {
		e.cache.forgetDevice()
	}
}

// link connects to d and resolves the write target. The handle is tracked
// for cleanup as soon as it exists.
func (e *Engine) link(ctx context.Context, op *operation, d device.Descriptor) (*connection.Handle, connection.CharacteristicRef, error) {
	op.enter(StageConnecting)
	h, err := e.conns.Connect(ctx, d, func() { op.enter(StageDiscovering) })
	if err != nil {
		return nil, connection.CharacteristicRef{}, err
	}
	e.handle = h

	ref, err := e.conns.FindWritableCharacteristic(h)
	if err != nil {
		return nil, connection.CharacteristicRef{}, err
	}
	return h, ref, nil
}

func (e *Engine) dropHandle() {
	if e.handle == nil {
		return
	}
	e.conns.Disconnect(e.handle)
	e.handle = nil
}

// cleanup is the fast-path preparation: stop a stray scan and release a stray link.
func (e *Engine) cleanup(op *operation) {
	if err := e.radio.StopScan(); err != nil {
		op.log.WithField("error", err).Debug("Stop scan during cleanup failed, ignoring")
	}
	e.dropHandle()
}

// resetStack destroys and recreates the radio stack, then waits for it to settle.
// The settle waits are not cancellable.
func (e *Engine) resetStack(ctx context.Context, op *operation) error {
	e.cleanup(op)

	op.log.Info("Resetting radio stack...")
	if err := e.radio.Reset(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrResetFailed, err)
	}
	e.counters.stackResets.Inc()

	for _, d := range e.opts.ResetSettle {
		if d > 0 {
			time.Sleep(d)
		}
	}
	return nil
}

// ensurePowered asks the radio to power on once when it reports off.
func (e *Engine) ensurePowered(ctx context.Context, op *operation) error {
	state, err := e.radio.PowerState(ctx)
	if err != nil {
		if errors.Is(err, device.ErrBluetoothOff) {
			return err
		}
		return fmt.Errorf("failed to read radio power state: %w", err)
	}
	if state != device.PoweredOff {
		return nil
	}

	op.log.Warn("Radio is powered off, requesting power on")
	if err := e.radio.SetPower(ctx, true); err != nil {
		return fmt.Errorf("%w: %w", device.ErrBluetoothOff, err)
	}

	state, err = e.radio.PowerState(ctx)
	if err != nil || state != device.PoweredOn {
		return device.ErrBluetoothOff
	}
	op.log.Info("Radio powered on")
	return nil
}
