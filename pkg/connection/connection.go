package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
)

// DefaultCharacteristicUUID is the waypoint RX characteristic (client -> device)
const DefaultCharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"

var (
	ErrConnectionFailed         = errors.New("connection failed")
	ErrNoWritableCharacteristic = errors.New("no writable characteristic")
)

// FailedError is returned when every connection attempt failed. Err is the last
// underlying error.
type FailedError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", ErrConnectionFailed, e.Address, e.Attempts, e.Err)
}

func (e *FailedError) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

// ConnectOptions configures connection establishment and characteristic resolution
type ConnectOptions struct {
	MaxAttempts        int
	RetryDelay         time.Duration
	ConnectTimeout     time.Duration // per attempt
	MTU                int
	SettleDelay        time.Duration // waited after every disconnect
	CharacteristicUUID string        // preferred write target
}

// DefaultConnectOptions returns the defaults tuned for the waypoint firmware
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		MaxAttempts:        3,
		RetryDelay:         2 * time.Second,
		ConnectTimeout:     10 * time.Second,
		MTU:                185,
		SettleDelay:        200 * time.Millisecond,
		CharacteristicUUID: DefaultCharacteristicUUID,
	}
}

// CharacteristicRef addresses one characteristic for writing
type CharacteristicRef struct {
	Service        string
	Characteristic string
	Fallback       bool // true when the preferred characteristic was absent
}

func (r CharacteristicRef) String() string {
	return r.Service + "/" + r.Characteristic
}

// Manager connects to peripherals with a bounded retry policy.
type Manager struct {
	radio  device.Radio
	opts   ConnectOptions
	logger *logrus.Logger
}

// NewManager creates a Manager. A nil opts uses DefaultConnectOptions.
func NewManager(radio device.Radio, opts *ConnectOptions, logger *logrus.Logger) *Manager {
	if opts == nil {
		opts = DefaultConnectOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	o := *opts
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}

	return &Manager{
		radio:  radio,
		opts:   o,
		logger: logger,
	}
}

// Options returns the effective options
func (m *Manager) Options() ConnectOptions {
	return m.opts
}

// Connect establishes a connection to d and resolves its services. Each attempt
// has its own timeout; attempts are separated by RetryDelay. onDiscovering, if
// set, is called once the link is up and service discovery begins.
func (m *Manager) Connect(ctx context.Context, d device.Descriptor, onDiscovering func()) (*Handle, error) {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, m.opts.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}

		attempts = attempt
		h, err := m.attempt(ctx, d, onDiscovering)
		if err == nil {
			m.logger.WithFields(logrus.Fields{
				"address": d.ID,
				"attempt": attempt,
			}).Info("Connected to device")
			return h, nil
		}

		lastErr = err
		m.logger.WithFields(logrus.Fields{
			"address":      d.ID,
			"attempt":      attempt,
			"max_attempts": m.opts.MaxAttempts,
			"error":        err,
		}).Warn("Connection attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &FailedError{Address: d.ID, Attempts: attempts, Err: lastErr}
}

func (m *Manager) attempt(ctx context.Context, d device.Descriptor, onDiscovering func()) (*Handle, error) {
	m.logger.WithFields(logrus.Fields{
		"address": d.ID,
		"timeout": m.opts.ConnectTimeout,
		"mtu":     m.opts.MTU,
	}).Debug("Connecting to BLE device...")

	client, err := m.radio.Connect(ctx, d.ID, &device.ConnectOptions{
		ConnectTimeout: m.opts.ConnectTimeout,
		MTU:            m.opts.MTU,
	})
	if err != nil {
		return nil, err
	}

	if onDiscovering != nil {
		onDiscovering()
	}

	services, err := client.DiscoverServices(ctx)
	if err != nil {
		if cerr := client.CancelConnection(); cerr != nil {
			m.logger.WithFields(logrus.Fields{
				"address": d.ID,
				"error":   cerr,
			}).Warn("Failed to cancel connection after discovery failure")
		}
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	return &Handle{
		device:   d,
		client:   client,
		services: services,
		settle:   m.opts.SettleDelay,
		logger:   m.logger,
	}, nil
}

// FindWritableCharacteristic returns the preferred characteristic when the
// peripheral exposes it, else the first characteristic that accepts writes
// with or without acknowledgement, in discovery order.
func (m *Manager) FindWritableCharacteristic(h *Handle) (CharacteristicRef, error) {
	if h == nil {
		return CharacteristicRef{}, ErrNoWritableCharacteristic
	}

	if m.opts.CharacteristicUUID != "" {
		for _, svc := range h.services {
			for _, ch := range svc.GetCharacteristics() {
				if device.EqualUUID(ch.UUID(), m.opts.CharacteristicUUID) {
					return CharacteristicRef{Service: svc.UUID(), Characteristic: ch.UUID()}, nil
				}
			}
		}
	}

	for _, svc := range h.services {
		for _, ch := range svc.GetCharacteristics() {
			if device.IsWritable(ch.GetProperties()) {
				ref := CharacteristicRef{Service: svc.UUID(), Characteristic: ch.UUID(), Fallback: true}
				m.logger.WithFields(logrus.Fields{
					"address":        h.device.ID,
					"characteristic": ref.String(),
				}).Warn("Preferred characteristic not found, using first writable one")
				return ref, nil
			}
		}
	}

	return CharacteristicRef{}, fmt.Errorf("%w on %s", ErrNoWritableCharacteristic, h.device.ID)
}

// Disconnect releases h. See Handle.Disconnect.
func (m *Manager) Disconnect(h *Handle) {
	h.Disconnect()
}

// Handle is a live connection bound to one device. It is owned by a single
// operation and is not safe for concurrent writes.
type Handle struct {
	device   device.Descriptor
	client   device.Client
	services []device.Service
	settle   time.Duration
	logger   *logrus.Logger

	once sync.Once
}

// Device returns the peripheral this handle is bound to
func (h *Handle) Device() device.Descriptor {
	return h.device
}

// Services returns the discovered services in discovery order
func (h *Handle) Services() []device.Service {
	return h.services
}

// Write sends data to ref without waiting for an acknowledgement
func (h *Handle) Write(ref CharacteristicRef, data []byte) error {
	return h.client.WriteWithoutResponse(ref.Service, ref.Characteristic, data)
}

// Disconnect cancels the connection once and waits for the stack to settle.
// Errors are logged, never returned. Safe on a nil handle and on repeat calls.
func (h *Handle) Disconnect() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if err := h.client.CancelConnection(); err != nil {
			h.logger.WithFields(logrus.Fields{
				"address": h.device.ID,
				"error":   err,
			}).Warn("Disconnect failed, ignoring")
		} else {
			h.logger.WithField("address", h.device.ID).Debug("Disconnected")
		}
		if h.settle > 0 {
			time.Sleep(h.settle)
		}
	})
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
