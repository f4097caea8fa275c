package devicefactory

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
	goble "github.com/srg/wayble/internal/device/go-ble"
	"github.com/srg/wayble/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestNewRadio(t *testing.T) {
	t.Run("defaults to the go-ble radio", func(t *testing.T) {
		r := NewRadio(nil)
		_, ok := r.(*goble.Radio)
		assert.True(t, ok, "default radio MUST be the go-ble implementation")
	})

	t.Run("factory can be overridden", func(t *testing.T) {
		original := RadioFactory
		defer func() { RadioFactory = original }()

		fake := testutils.NewFakeRadioBuilder().Build()
		var got *logrus.Logger
		RadioFactory = func(logger *logrus.Logger) device.Radio {
			got = logger
			return fake
		}

		logger := logrus.New()
		assert.Same(t, fake, NewRadio(logger))
		assert.Same(t, logger, got)
	})
}
