package goble

import (
	"fmt"
	"strings"

	"github.com/srg/wayble/internal/device"
)

// errorPatterns maps lower-cased go-ble/HCI error fragments to device sentinels.
// The first matching fragment wins.
var errorPatterns = []struct {
	fragment string
	sentinel error
}{
	{"central manager has invalid state", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"can't init hci", device.ErrBluetoothOff},
	{"no devices available", device.ErrBluetoothOff},
	{"device not connected", device.ErrNotConnected},
	{"device already connected", device.ErrAlreadyConnected},
	{"disconnected", device.ErrNotConnected},
	{"connection is not initialized", device.ErrNotInitialized},
}

// NormalizeError wraps err with the device sentinel its message corresponds
// to, so callers can use errors.Is regardless of the platform backend.
// Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %v", p.sentinel, err)
		}
	}
	return err
}
