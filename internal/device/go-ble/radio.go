package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
)

// ----------------------------
// Device Factory
// ----------------------------

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = defaultDevice

// ----------------------------
// Radio
// ----------------------------

// Radio implements device.Radio on top of a single go-ble device instance.
// Reset stops that instance and asks DeviceFactory for a new one.
type Radio struct {
	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	logger     *logrus.Logger

	// live connections by connection id, so Reset can drop them all
	clients *hashmap.Map[uint64, *BLEClient]
	nextID  atomic.Uint64
}

// NewRadio creates a Radio. The underlying device is created lazily on first use.
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		clients: hashmap.New[uint64, *BLEClient](),
		logger:  logger,
	}
}

// stack returns the live go-ble device, creating it if needed.
func (r *Radio) stack() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	r.dev = dev
	return dev, nil
}

// PowerState reports PoweredOff when the platform refuses to open the stack
// because the adapter is off.
func (r *Radio) PowerState(_ context.Context) (device.PowerState, error) {
	_, err := r.stack()
	switch {
	case err == nil:
		return device.PoweredOn, nil
	case errors.Is(err, device.ErrBluetoothOff):
		return device.PoweredOff, nil
	default:
		return device.PowerUnknown, err
	}
}

// SetPower is not available through go-ble; adapters must be powered by the OS.
func (r *Radio) SetPower(_ context.Context, on bool) error {
	return fmt.Errorf("%w: set power to %t", device.ErrUnsupported, on)
}

// Scan blocks until ctx is done or StopScan is called. Stopping is not an error.
func (r *Radio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := r.stack()
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.scanCancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("scan already in progress")
	}
	r.scanCancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.scanCancel = nil
		r.mu.Unlock()
	}()

	r.logger.WithField("allow_dup", allowDup).Debug("Starting go-ble scan")

	// Adapter: convert a handler expecting a device.Advertisement to the one expecting ble.Advertisement
	err = dev.Scan(scanCtx, allowDup, func(adv ble.Advertisement) {
		handler(newAdvertisement(adv))
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if scanCtx.Err() != nil {
			return nil
		}
		return NormalizeError(err)
	}
	return nil
}

// StopScan cancels an active scan. It is a no-op when nothing is scanning.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	cancel := r.scanCancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.logger.Debug("Scan stop requested")
	}
	return nil
}

// Connect dials the peripheral and requests the configured MTU.
// A failed MTU exchange is logged and the connection is kept.
func (r *Radio) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	if opts == nil {
		opts = &device.ConnectOptions{}
	}

	dev, err := r.stack()
	if err != nil {
		return nil, err
	}

	connCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	r.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": opts.ConnectTimeout,
	}).Debug("Dialing BLE device...")

	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		if errors.Is(connCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w: %v", address, device.ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	if opts.MTU > 0 {
		txMTU, err := client.ExchangeMTU(opts.MTU)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"address": address,
				"mtu":     opts.MTU,
				"error":   err,
			}).Warn("MTU exchange failed, keeping default MTU")
		} else {
			r.logger.WithFields(logrus.Fields{
				"address": address,
				"tx_mtu":  txMTU,
			}).Debug("MTU exchanged")
		}
	}

	id := r.nextID.Add(1)
	c := newBLEClient(address, client, func(*BLEClient) { r.clients.Del(id) }, r.logger)
	r.clients.Set(id, c)

	return c, nil
}

// Reset cancels any scan, drops every live connection, stops the go-ble device
// and creates a fresh one.
func (r *Radio) Reset(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.scanCancel
	dev := r.dev
	r.dev = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	clients := make([]*BLEClient, 0, r.clients.Len())
	r.clients.Range(func(_ uint64, c *BLEClient) bool {
		clients = append(clients, c)
		return true
	})
	for _, c := range clients {
		if err := c.CancelConnection(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"address": c.Address(),
				"error":   err,
			}).Warn("Failed to cancel connection during stack reset")
		}
	}

	if dev != nil {
		if err := dev.Stop(); err != nil {
			r.logger.WithField("error", err).Warn("Failed to stop BLE device during stack reset")
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	newDev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to recreate BLE device: %w", NormalizeError(err))
	}

	r.mu.Lock()
	r.dev = newDev
	r.mu.Unlock()

	r.logger.WithField("dropped_connections", len(clients)).Info("BLE stack recreated")
	return nil
}
