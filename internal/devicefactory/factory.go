// Package devicefactory selects the radio implementation used by the CLI.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
	goble "github.com/srg/wayble/internal/device/go-ble"
)

// RadioFactory creates the device.Radio for a command run.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func(logger *logrus.Logger) device.Radio {
	return goble.NewRadio(logger)
}

// NewRadio returns the radio produced by RadioFactory
func NewRadio(logger *logrus.Logger) device.Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return RadioFactory(logger)
}
