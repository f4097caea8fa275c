package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/wayble/internal/device"
)

// ----------------------------
// BLE Service
// ----------------------------

// BLEService represents a discovered GATT service. Characteristics keep
// discovery order.
type BLEService struct {
	uuid            string
	characteristics []*BLECharacteristic
}

func (s *BLEService) UUID() string {
	return s.uuid
}

func (s *BLEService) GetCharacteristics() []device.Characteristic {
	result := make([]device.Characteristic, 0, len(s.characteristics))
	for _, char := range s.characteristics {
		result = append(result, char)
	}
	return result
}

// ----------------------------
// BLE Characteristic
// ----------------------------

// BLECharacteristic holds the live go-ble handle used for writes.
type BLECharacteristic struct {
	uuid       string
	properties device.Properties
	BLEChar    *ble.Characteristic
}

func newCharacteristic(c *ble.Characteristic) *BLECharacteristic {
	return &BLECharacteristic{
		uuid:       device.NormalizeUUID(c.UUID.String()),
		properties: NewProperties(c.Property),
		BLEChar:    c,
	}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) GetProperties() device.Properties {
	return c.properties
}

// newServices converts a discovered profile into device services.
func newServices(p *ble.Profile) []*BLEService {
	if p == nil {
		return nil
	}
	result := make([]*BLEService, 0, len(p.Services))
	for _, s := range p.Services {
		svc := &BLEService{uuid: device.NormalizeUUID(s.UUID.String())}
		for _, c := range s.Characteristics {
			svc.characteristics = append(svc.characteristics, newCharacteristic(c))
		}
		result = append(result, svc)
	}
	return result
}
