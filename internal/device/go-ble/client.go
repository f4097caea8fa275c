package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
)

// BLEClient implements device.Client for one go-ble connection.
type BLEClient struct {
	address string
	client  ble.Client
	logger  *logrus.Logger
	onClose func(*BLEClient)

	mu       sync.RWMutex
	services []*BLEService
	closed   bool
}

func newBLEClient(address string, client ble.Client, onClose func(*BLEClient), logger *logrus.Logger) *BLEClient {
	return &BLEClient{
		address: address,
		client:  client,
		onClose: onClose,
		logger:  logger,
	}
}

func (c *BLEClient) Address() string {
	return c.address
}

// DiscoverServices runs a full profile discovery and returns services in discovery order.
func (c *BLEClient) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, device.ErrNotConnected
	}

	profile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	services := newServices(profile)

	c.mu.Lock()
	c.services = services
	c.mu.Unlock()

	result := make([]device.Service, 0, len(services))
	totalChars := 0
	for _, s := range services {
		result = append(result, s)
		totalChars += len(s.characteristics)
	}

	c.logger.WithFields(logrus.Fields{
		"address":         c.address,
		"services":        len(services),
		"characteristics": totalChars,
	}).Debug("Profile discovered successfully")

	return result, nil
}

// WriteWithoutResponse writes data in a single ATT write command.
func (c *BLEClient) WriteWithoutResponse(service, characteristic string, data []byte) error {
	char, err := c.lookup(service, characteristic)
	if err != nil {
		return err
	}
	if err := c.client.WriteCharacteristic(char.BLEChar, data, true); err != nil {
		return fmt.Errorf("failed to write to characteristic %s in service %s: %w", characteristic, service, NormalizeError(err))
	}
	return nil
}

func (c *BLEClient) lookup(service, characteristic string) (*BLECharacteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, device.ErrNotConnected
	}

	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)
	for _, s := range c.services {
		if s.uuid != svcUUID {
			continue
		}
		for _, ch := range s.characteristics {
			if ch.uuid == charUUID {
				return ch, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

// CancelConnection disconnects once; later calls return nil.
func (c *BLEClient) CancelConnection() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.services = nil
	c.mu.Unlock()

	if c.onClose != nil {
		c.onClose(c)
	}

	if err := c.client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	return nil
}
