package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/wayble/internal/device"
)

// BLEProperty is one flag out of a characteristic property mask.
type BLEProperty struct {
	flag ble.Property
	name string
}

func (p BLEProperty) Value() int        { return int(p.flag) }
func (p BLEProperty) KnownName() string { return p.name }

// BLEProperties exposes a go-ble property mask through device.Properties.
// Absent flags surface as a nil device.Property.
type BLEProperties ble.Property

// NewProperties wraps a go-ble property mask
func NewProperties(p ble.Property) device.Properties {
	return BLEProperties(p)
}

func (p BLEProperties) get(flag ble.Property, name string) device.Property {
	if ble.Property(p)&flag == 0 {
		return nil
	}
	return BLEProperty{flag: flag, name: name}
}

func (p BLEProperties) Read() device.Property  { return p.get(ble.CharRead, "Read") }
func (p BLEProperties) Write() device.Property { return p.get(ble.CharWrite, "Write") }
func (p BLEProperties) WriteWithoutResponse() device.Property {
	return p.get(ble.CharWriteNR, "WriteWithoutResponse")
}
func (p BLEProperties) Notify() device.Property   { return p.get(ble.CharNotify, "Notify") }
func (p BLEProperties) Indicate() device.Property { return p.get(ble.CharIndicate, "Indicate") }
