package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
	"github.com/srg/wayble/internal/groutine"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrNoDeviceFound = errors.New("no device found")
	ErrScan          = errors.New("scan failed")
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Acceptor decides whether a discovered device is a target
type Acceptor interface {
	IsAcceptable(d device.Descriptor) bool
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Window          time.Duration // upper bound on one scan
	DuplicateFilter bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Window:          8 * time.Second,
		DuplicateFilter: true,
	}
}

// DiscoveredDevice is one device seen during a scan, in discovery order.
type DiscoveredDevice struct {
	device.Descriptor
	Order   int  `json:"order"`
	Matched bool `json:"matched"`
}

// Result is the outcome of Discover.
type Result struct {
	Device   device.Descriptor
	Matched  bool // false when the device is the first-seen fallback
	Seen     int
	Elapsed  time.Duration
	TimedOut bool
}

// Scanner races the discovery stream against a timeout window.
type Scanner struct {
	radio   device.Radio
	matcher Acceptor
	logger  *logrus.Logger
}

// NewScanner creates a new scanner
func NewScanner(radio device.Radio, matcher Acceptor, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		radio:   radio,
		matcher: matcher,
		logger:  logger,
	}
}

// Discover scans until the first acceptable device is seen or the window
// elapses. On timeout it falls back to the first device seen of any kind;
// with nothing seen it fails with ErrNoDeviceFound.
func (s *Scanner) Discover(ctx context.Context, opts *ScanOptions, progress ProgressCallback) (Result, error) {
	state, elapsed, timedOut, err := s.run(ctx, opts, true, progress)

	res := Result{Seen: state.len(), Elapsed: elapsed, TimedOut: timedOut}

	if m := state.firstMatch(); m != nil {
		res.Device = m.Descriptor
		res.Matched = true
		return res, nil
	}
	if err != nil {
		return res, err
	}

	first := state.firstSeen()
	if first == nil {
		s.logger.WithField("window", opts.Window).Warn("No devices seen during scan window")
		return res, fmt.Errorf("%w within %s", ErrNoDeviceFound, elapsed.Round(time.Millisecond))
	}

	s.logger.WithFields(logrus.Fields{
		"address": first.ID,
		"name":    first.DisplayName,
		"seen":    res.Seen,
	}).Warn("No acceptable device matched, falling back to first seen device")

	res.Device = first.Descriptor
	return res, nil
}

// Survey scans for the whole window without stopping on a match and returns
// every device seen, in discovery order.
func (s *Scanner) Survey(ctx context.Context, opts *ScanOptions, progress ProgressCallback) ([]DiscoveredDevice, error) {
	state, _, _, err := s.run(ctx, opts, false, progress)
	if err != nil {
		return nil, err
	}
	return state.list(), nil
}

func (s *Scanner) run(ctx context.Context, opts *ScanOptions, stopOnMatch bool, progress ProgressCallback) (*scanState, time.Duration, bool, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progress == nil {
		progress = func(string) {} // No-op callback
	}

	state := newScanState(s.matcher)
	start := time.Now()

	s.logger.WithFields(logrus.Fields{
		"window":           opts.Window,
		"duplicate_filter": opts.DuplicateFilter,
		"stop_on_match":    stopOnMatch,
	}).Info("Starting BLE scan...")

	// Report scanning phase
	progress("Scanning")

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mode := "survey"
	if stopOnMatch {
		mode = "discover"
	}

	scanErr := make(chan error, 1)
	done := groutine.Go(scanCtx, "scanner-stream", func(gctx context.Context) {
		scanErr <- s.radio.Scan(gctx, !opts.DuplicateFilter, state.observe)
	}, "scan_mode", mode)

	timer := time.NewTimer(opts.Window)
	defer timer.Stop()

	var matched <-chan struct{}
	if stopOnMatch {
		matched = state.matched
	}

	var (
		err      error
		timedOut bool
	)
	select {
	case <-matched:
		s.logger.Debug("Acceptable device found, stopping scan")
	case <-timer.C:
		timedOut = true
		s.logger.Debug("Scan window elapsed, stopping scan")
	case e := <-scanErr:
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case e != nil:
			err = fmt.Errorf("%w: %w", ErrScan, e)
		default:
			s.logger.Debug("Discovery stream ended before scan window")
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	// the loser of the race is cancelled: no more observations, timer cleared, stream stopped
	state.close()
	timer.Stop()
	if stopErr := s.radio.StopScan(); stopErr != nil {
		s.logger.WithField("error", stopErr).Warn("Failed to stop scan")
	}
	cancel()
	<-done

	elapsed := time.Since(start)
	s.logger.WithFields(logrus.Fields{
		"device_count": state.len(),
		"elapsed":      elapsed.Round(time.Millisecond),
	}).Info("BLE scan completed")

	// Report processing phase
	progress("Processing results")

	return state, elapsed, timedOut, err
}

// scanState collects observations from the discovery goroutine.
type scanState struct {
	mu      sync.Mutex
	matcher Acceptor
	devices *orderedmap.OrderedMap[string, *DiscoveredDevice]
	first   *DiscoveredDevice
	matched chan struct{}
	closed  bool
}

func newScanState(matcher Acceptor) *scanState {
	return &scanState{
		matcher: matcher,
		devices: orderedmap.New[string, *DiscoveredDevice](),
		matched: make(chan struct{}),
	}
}

// observe updates existing or adds a new device. A device that did not match
// on first sight is re-evaluated when a later advertisement carries more data.
func (st *scanState) observe(adv device.Advertisement) {
	d := device.NewDescriptor(adv)
	if d.ID == "" {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}

	dd, existing := st.devices.Get(d.ID)
	if existing {
		if d.DisplayName != "" {
			dd.DisplayName = d.DisplayName
		}
		if len(d.AdvertisedServices) > 0 {
			dd.AdvertisedServices = d.AdvertisedServices
		}
		dd.RSSI = d.RSSI
	} else {
		dd = &DiscoveredDevice{Descriptor: d, Order: st.devices.Len() + 1}
		st.devices.Set(d.ID, dd)
	}

	if !dd.Matched && st.matcher != nil && st.matcher.IsAcceptable(dd.Descriptor) {
		dd.Matched = true
		if st.first == nil {
			st.first = dd
			close(st.matched)
		}
	}
}

func (st *scanState) close() {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
}

func (st *scanState) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.devices.Len()
}

func (st *scanState) firstMatch() *DiscoveredDevice {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.first == nil {
		return nil
	}
	cp := *st.first
	return &cp
}

func (st *scanState) firstSeen() *DiscoveredDevice {
	st.mu.Lock()
	defer st.mu.Unlock()
	pair := st.devices.Oldest()
	if pair == nil {
		return nil
	}
	cp := *pair.Value
	return &cp
}

func (st *scanState) list() []DiscoveredDevice {
	st.mu.Lock()
	defer st.mu.Unlock()
	devs := make([]DiscoveredDevice, 0, st.devices.Len())
	for pair := st.devices.Oldest(); pair != nil; pair = pair.Next() {
		devs = append(devs, *pair.Value)
	}
	return devs
}
