package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/wayble/internal/device"
)

// Identifiers used by the waypoint firmware. Duplicated here so test helpers
// do not import the packages under test.
const (
	WaypointServiceUUID        = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	WaypointCharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

// CharacteristicConfig represents a characteristic exposed by a fake peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,write-nr,notify"
}

// ServiceConfig represents a service exposed by a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the GATT profile returned by service discovery
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// AdvertisementConfig is one scripted discovery event
type AdvertisementConfig struct {
	Address  string   `json:"address"`
	Name     string   `json:"name,omitempty"`
	Services []string `json:"services,omitempty"`
	RSSI     int      `json:"rssi,omitempty"`
}

// FakeWrite records one write-without-response
type FakeWrite struct {
	Address        string
	Service        string
	Characteristic string
	Data           []byte
}

// Gate parks Connect calls until released, letting a test hold an operation in flight.
type Gate struct {
	Entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewGate creates a closed gate.
func NewGate() *Gate {
	return &Gate{
		Entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

// Release lets every parked and future Connect through.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

func (g *Gate) enter() {
	select {
	case g.Entered <- struct{}{}:
	default:
	}
}

// FakeRadio is an in-memory device.Radio with scripted behaviour and call counters.
type FakeRadio struct {
	mu sync.Mutex

	power           device.PowerState
	powerErr        error
	setPowerErr     error
	setPowerTurnsOn bool

	advertisements []AdvertisementConfig
	advInterval    time.Duration
	scanErr        error

	profiles        map[string]DeviceProfileConfig
	connectFailures map[string]int
	discoverErr     map[string]error
	writeFailures   map[int]error
	cancelErr       error
	resetErr        error
	connectGate     *Gate

	scanCancel context.CancelFunc
	generation int

	// counters
	scans         int
	stopScans     int
	resets        int
	setPowerCalls int
	disconnects   int
	live          int
	allowDup      []bool
	connects      []string
	connectOpts   []device.ConnectOptions
	writes        []FakeWrite
}

// PowerState implements device.Radio
func (r *FakeRadio) PowerState(_ context.Context) (device.PowerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power, r.powerErr
}

// SetPower implements device.Radio
func (r *FakeRadio) SetPower(_ context.Context, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setPowerCalls++
	if r.setPowerErr != nil {
		return r.setPowerErr
	}
	if on && r.setPowerTurnsOn {
		r.power = device.PoweredOn
	}
	return nil
}

// Scan delivers the scripted advertisements in order, then blocks until stopped.
func (r *FakeRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	r.mu.Lock()
	r.scans++
	r.allowDup = append(r.allowDup, allowDup)
	if r.scanErr != nil {
		err := r.scanErr
		r.mu.Unlock()
		return err
	}
	if r.power != device.PoweredOn {
		r.mu.Unlock()
		return device.ErrBluetoothOff
	}
	scanCtx, cancel := context.WithCancel(ctx)
	r.scanCancel = cancel
	ads := append([]AdvertisementConfig(nil), r.advertisements...)
	interval := r.advInterval
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.scanCancel = nil
		r.mu.Unlock()
	}()

	seen := make(map[string]bool)
	for _, a := range ads {
		if interval > 0 {
			t := time.NewTimer(interval)
			select {
			case <-scanCtx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		} else if scanCtx.Err() != nil {
			return ctx.Err()
		}

		if !allowDup && seen[a.Address] {
			continue
		}
		seen[a.Address] = true
		handler(fakeAdvertisement{cfg: a})
	}

	<-scanCtx.Done()
	return ctx.Err()
}

// StopScan implements device.Radio
func (r *FakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopScans++
	if r.scanCancel != nil {
		r.scanCancel()
	}
	return nil
}

// Connect implements device.Radio
func (r *FakeRadio) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Client, error) {
	r.mu.Lock()
	r.connects = append(r.connects, address)
	if opts != nil {
		r.connectOpts = append(r.connectOpts, *opts)
	}
	gate := r.connectGate
	r.mu.Unlock()

	if gate != nil {
		gate.enter()
		select {
		case <-gate.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.power != device.PoweredOn {
		return nil, device.ErrBluetoothOff
	}
	if n, ok := r.connectFailures[address]; ok && n != 0 {
		if n > 0 {
			r.connectFailures[address] = n - 1
		}
		return nil, fmt.Errorf("connection to %s refused", address)
	}
	profile, ok := r.profiles[address]
	if !ok {
		return nil, fmt.Errorf("device %s is not reachable", address)
	}

	r.live++
	return &fakeClient{
		radio:       r,
		address:     address,
		profile:     profile,
		discoverErr: r.discoverErr[address],
		generation:  r.generation,
	}, nil
}

// Reset drops every connection and stops any scan.
func (r *FakeRadio) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resets++
	if r.scanCancel != nil {
		r.scanCancel()
	}
	r.generation++
	r.live = 0
	return r.resetErr
}

// FailConnects refuses the next n connects to address; negative refuses forever.
// Unlike the builder option it can be applied between operations.
func (r *FakeRadio) FailConnects(address string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectFailures[address] = n
}

// FailWrite fails the index-th write (0-based) of every later connection
func (r *FakeRadio) FailWrite(index int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeFailures[index] = err
}

// SetPowerState changes the reported power state
func (r *FakeRadio) SetPowerState(state device.PowerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.power = state
}

// ScanCount returns how many times Scan was called
func (r *FakeRadio) ScanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

// StopScanCount returns how many times StopScan was called
func (r *FakeRadio) StopScanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopScans
}

// ResetCount returns how many times the stack was recreated
func (r *FakeRadio) ResetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// SetPowerCount returns how many times SetPower was called
func (r *FakeRadio) SetPowerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setPowerCalls
}

// ScanAllowDup returns the duplicate-filtering flag of every Scan call
func (r *FakeRadio) ScanAllowDup() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.allowDup...)
}

// Connects returns every address passed to Connect, in order
func (r *FakeRadio) Connects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connects...)
}

// ConnectOptions returns the options of every Connect call
func (r *FakeRadio) ConnectOptions() []device.ConnectOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.ConnectOptions(nil), r.connectOpts...)
}

// Writes returns every successful write, in order
func (r *FakeRadio) Writes() []FakeWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FakeWrite(nil), r.writes...)
}

// WrittenFrames returns the data of every successful write
func (r *FakeRadio) WrittenFrames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := make([][]byte, len(r.writes))
	for i, w := range r.writes {
		frames[i] = w.Data
	}
	return frames
}

// Disconnects returns how many clients were cancelled
func (r *FakeRadio) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

// LiveConnections returns how many clients are still open
func (r *FakeRadio) LiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Scanning reports whether a scan is running
func (r *FakeRadio) Scanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanCancel != nil
}

// ----------------------------
// Client
// ----------------------------

type fakeClient struct {
	radio       *FakeRadio
	address     string
	profile     DeviceProfileConfig
	discoverErr error
	generation  int

	closed bool
	writes int
}

func (c *fakeClient) Address() string {
	return c.address
}

func (c *fakeClient) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.radio.mu.Lock()
	defer c.radio.mu.Unlock()

	if c.closed || c.generation != c.radio.generation {
		return nil, device.ErrNotConnected
	}
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}

	services := make([]device.Service, 0, len(c.profile.Services))
	for _, s := range c.profile.Services {
		svc := &fakeService{uuid: device.NormalizeUUID(s.UUID)}
		for _, ch := range s.Characteristics {
			svc.chars = append(svc.chars, &fakeCharacteristic{
				uuid:  device.NormalizeUUID(ch.UUID),
				props: parseProperties(ch.Properties),
			})
		}
		services = append(services, svc)
	}
	return services, nil
}

func (c *fakeClient) WriteWithoutResponse(service, characteristic string, data []byte) error {
	c.radio.mu.Lock()
	defer c.radio.mu.Unlock()

	if c.closed || c.generation != c.radio.generation {
		return device.ErrNotConnected
	}
	if !c.hasCharacteristic(service, characteristic) {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}

	idx := c.writes
	c.writes++
	if err, ok := c.radio.writeFailures[idx]; ok {
		return err
	}

	c.radio.writes = append(c.radio.writes, FakeWrite{
		Address:        c.address,
		Service:        device.NormalizeUUID(service),
		Characteristic: device.NormalizeUUID(characteristic),
		Data:           append([]byte(nil), data...),
	})
	return nil
}

func (c *fakeClient) hasCharacteristic(service, characteristic string) bool {
	for _, s := range c.profile.Services {
		if !device.EqualUUID(s.UUID, service) {
			continue
		}
		for _, ch := range s.Characteristics {
			if device.EqualUUID(ch.UUID, characteristic) {
				return true
			}
		}
	}
	return false
}

func (c *fakeClient) CancelConnection() error {
	c.radio.mu.Lock()
	defer c.radio.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.radio.disconnects++
	if c.generation == c.radio.generation && c.radio.live > 0 {
		c.radio.live--
	}
	return c.radio.cancelErr
}

type fakeService struct {
	uuid  string
	chars []*fakeCharacteristic
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) GetCharacteristics() []device.Characteristic {
	result := make([]device.Characteristic, len(s.chars))
	for i, c := range s.chars {
		result[i] = c
	}
	return result
}

type fakeCharacteristic struct {
	uuid  string
	props fakeProperties
}

func (c *fakeCharacteristic) UUID() string                     { return c.uuid }
func (c *fakeCharacteristic) GetProperties() device.Properties { return c.props }

type fakeProperty struct {
	value int
	name  string
}

func (p fakeProperty) Value() int        { return p.value }
func (p fakeProperty) KnownName() string { return p.name }

type fakeProperties blelib.Property

func (p fakeProperties) prop(flag blelib.Property, name string) device.Property {
	return fakeProperty{value: int(blelib.Property(p) & flag), name: name}
}

func (p fakeProperties) Read() device.Property { return p.prop(blelib.CharRead, "Read") }
func (p fakeProperties) Write() device.Property {
	return p.prop(blelib.CharWrite, "Write")
}
func (p fakeProperties) WriteWithoutResponse() device.Property {
	return p.prop(blelib.CharWriteNR, "WriteWithoutResponse")
}
func (p fakeProperties) Notify() device.Property   { return p.prop(blelib.CharNotify, "Notify") }
func (p fakeProperties) Indicate() device.Property { return p.prop(blelib.CharIndicate, "Indicate") }

// parseProperties converts a comma-separated property list to ble.Property flags
func parseProperties(props string) fakeProperties {
	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(strings.ToLower(p)) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-nr", "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	return fakeProperties(property)
}

type fakeAdvertisement struct {
	cfg AdvertisementConfig
}

func (a fakeAdvertisement) LocalName() string  { return a.cfg.Name }
func (a fakeAdvertisement) Services() []string { return a.cfg.Services }
func (a fakeAdvertisement) Connectable() bool  { return true }
func (a fakeAdvertisement) RSSI() int          { return a.cfg.RSSI }
func (a fakeAdvertisement) Addr() string       { return a.cfg.Address }

// ----------------------------
// Builder
// ----------------------------

// FakeRadioBuilder configures a FakeRadio fluently.
//
//	radio := testutils.NewFakeRadioBuilder().
//	    WithAdvertisement("11:22:33:44:55:66", "Heart Rate").
//	    WithWaypointPeripheral("AA:BB:CC:DD:EE:FF", "ESP32 Nav").
//	    WithConnectFailures("AA:BB:CC:DD:EE:FF", 1).
//	    Build()
type FakeRadioBuilder struct {
	radio       *FakeRadio
	lastAddress string
}

// NewFakeRadioBuilder creates a builder for a powered-on radio with nothing around it
func NewFakeRadioBuilder() *FakeRadioBuilder {
	return &FakeRadioBuilder{
		radio: &FakeRadio{
			power:           device.PoweredOn,
			profiles:        make(map[string]DeviceProfileConfig),
			connectFailures: make(map[string]int),
			discoverErr:     make(map[string]error),
			writeFailures:   make(map[int]error),
		},
	}
}

// WithAdvertisement scripts one discovery event
func (b *FakeRadioBuilder) WithAdvertisement(address, name string, services ...string) *FakeRadioBuilder {
	b.radio.advertisements = append(b.radio.advertisements, AdvertisementConfig{
		Address:  address,
		Name:     name,
		Services: services,
		RSSI:     -60,
	})
	return b
}

// WithAdvertisementInterval delays every discovery event
func (b *FakeRadioBuilder) WithAdvertisementInterval(d time.Duration) *FakeRadioBuilder {
	b.radio.advInterval = d
	return b
}

// WithPeripheral makes address connectable with an empty profile; services follow
func (b *FakeRadioBuilder) WithPeripheral(address string) *FakeRadioBuilder {
	if _, ok := b.radio.profiles[address]; !ok {
		b.radio.profiles[address] = DeviceProfileConfig{}
	}
	b.lastAddress = address
	return b
}

// WithService adds a service to the last added peripheral
func (b *FakeRadioBuilder) WithService(uuid string) *FakeRadioBuilder {
	if b.lastAddress == "" {
		panic("WithService: no peripheral added yet, call WithPeripheral first")
	}
	p := b.radio.profiles[b.lastAddress]
	p.Services = append(p.Services, ServiceConfig{UUID: uuid})
	b.radio.profiles[b.lastAddress] = p
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *FakeRadioBuilder) WithCharacteristic(uuid, properties string) *FakeRadioBuilder {
	p := b.radio.profiles[b.lastAddress]
	if len(p.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(p.Services) - 1
	p.Services[last].Characteristics = append(p.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
	})
	b.radio.profiles[b.lastAddress] = p
	return b
}

// WithProfileJSON fills the profile of address from JSON
func (b *FakeRadioBuilder) WithProfileJSON(address, jsonStrFmt string, args ...interface{}) *FakeRadioBuilder {
	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("FakeRadioBuilder.WithProfileJSON: failed to unmarshal: %v", err))
	}
	b.radio.profiles[address] = config
	b.lastAddress = address
	return b
}

// WithWaypointPeripheral advertises a firmware-compatible peripheral and makes it connectable
func (b *FakeRadioBuilder) WithWaypointPeripheral(address, name string) *FakeRadioBuilder {
	return b.WithAdvertisement(address, name, WaypointServiceUUID).
		WithPeripheral(address).
		WithService(WaypointServiceUUID).
		WithCharacteristic(WaypointCharacteristicUUID, "read,write,write-nr")
}

// WithConnectFailures refuses the next n connects to address; negative refuses forever
func (b *FakeRadioBuilder) WithConnectFailures(address string, n int) *FakeRadioBuilder {
	b.radio.connectFailures[address] = n
	return b
}

// WithDiscoverError fails service discovery on address
func (b *FakeRadioBuilder) WithDiscoverError(address string, err error) *FakeRadioBuilder {
	b.radio.discoverErr[address] = err
	return b
}

// WithWriteFailure fails the index-th write (0-based) of every connection
func (b *FakeRadioBuilder) WithWriteFailure(index int, err error) *FakeRadioBuilder {
	b.radio.writeFailures[index] = err
	return b
}

// WithPower sets the initial power state
func (b *FakeRadioBuilder) WithPower(state device.PowerState) *FakeRadioBuilder {
	b.radio.power = state
	return b
}

// WithPowerError makes PowerState fail
func (b *FakeRadioBuilder) WithPowerError(err error) *FakeRadioBuilder {
	b.radio.powerErr = err
	return b
}

// WithSetPower controls what SetPower does: turn the radio on, or fail
func (b *FakeRadioBuilder) WithSetPower(turnsOn bool, err error) *FakeRadioBuilder {
	b.radio.setPowerTurnsOn = turnsOn
	b.radio.setPowerErr = err
	return b
}

// WithScanError makes Scan fail immediately
func (b *FakeRadioBuilder) WithScanError(err error) *FakeRadioBuilder {
	b.radio.scanErr = err
	return b
}

// WithCancelError makes CancelConnection report an error
func (b *FakeRadioBuilder) WithCancelError(err error) *FakeRadioBuilder {
	b.radio.cancelErr = err
	return b
}

// WithResetError makes Reset report an error
func (b *FakeRadioBuilder) WithResetError(err error) *FakeRadioBuilder {
	b.radio.resetErr = err
	return b
}

// WithConnectGate parks every Connect on gate
func (b *FakeRadioBuilder) WithConnectGate(gate *Gate) *FakeRadioBuilder {
	b.radio.connectGate = gate
	return b
}

// Build returns the configured radio
func (b *FakeRadioBuilder) Build() *FakeRadio {
	return b.radio
}
