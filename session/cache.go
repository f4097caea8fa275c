package session

import (
	"sync"

	"github.com/srg/wayble/internal/device"
)

// Cache remembers the last route delivered and the device it went to.
// Only the Engine mutates it, and only while holding the operation guard.
type Cache struct {
	mu              sync.RWMutex
	lastSentPayload string
	lastKnownDevice *device.Descriptor
}

// NewCache returns an empty cache
func NewCache() *Cache {
	return &Cache{}
}

// LastSentPayload is the wire string of the last successful send, or "".
func (c *Cache) LastSentPayload() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSentPayload
}

// LastKnownDevice is the device of the last successful send.
func (c *Cache) LastKnownDevice() (device.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastKnownDevice == nil {
		return device.Descriptor{}, false
	}
	return *c.lastKnownDevice, true
}

// reusable returns the cached device when payload is what was last delivered.
func (c *Cache) reusable(payload string) (device.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastKnownDevice == nil || payload == "" || payload != c.lastSentPayload {
		return device.Descriptor{}, false
	}
	return *c.lastKnownDevice, true
}

func (c *Cache) remember(payload string, d device.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSentPayload = payload
	c.lastKnownDevice = &d
}

func (c *Cache) forgetDevice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKnownDevice = nil
}

func (c *Cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSentPayload = ""
	c.lastKnownDevice = nil
}
