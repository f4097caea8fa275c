// Package goble provides testify mocks of the go-ble types used by the radio backend.
//
// Each mock embeds the go-ble interface it stands in for, so only the methods
// the backend calls are implemented; calling anything else panics.
package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice mocks ble.Device.
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockClient mocks ble.Client.
type MockClient struct {
	ble.Client
	mock.Mock
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	args := m.Called(rxMTU)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

// MockAdvertisement is a fixed ble.Advertisement.
type MockAdvertisement struct {
	ble.Advertisement

	Name          string
	Address       string
	ServiceIDs    []ble.UUID
	Signal        int
	IsConnectable bool
}

func (a *MockAdvertisement) LocalName() string    { return a.Name }
func (a *MockAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.Address) }
func (a *MockAdvertisement) Services() []ble.UUID { return a.ServiceIDs }
func (a *MockAdvertisement) RSSI() int            { return a.Signal }
func (a *MockAdvertisement) Connectable() bool    { return a.IsConnectable }
