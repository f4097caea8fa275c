package goble

import (
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/wayble/internal/device"
)

// advertisement adapts ble.Advertisement to device.Advertisement. Only the
// fields the matcher and scan report read are exposed.
type advertisement struct {
	ble.Advertisement
}

func newAdvertisement(adv ble.Advertisement) device.Advertisement {
	return advertisement{adv}
}

// Addr is upper-cased; go-ble reports addresses in lower case.
func (a advertisement) Addr() string {
	if a.Advertisement.Addr() == nil {
		return ""
	}
	return strings.ToUpper(a.Advertisement.Addr().String())
}

func (a advertisement) Services() []string {
	uuids := a.Advertisement.Services()
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = u.String()
	}
	return out
}
