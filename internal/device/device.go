package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	UUIDs    []string // One or more identifiers (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")

	// ErrBluetoothOff is returned when the radio is powered off and cannot be turned on.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// PowerState is the power state reported by a radio stack.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PoweredOff
	PoweredOn
)

func (s PowerState) String() string {
	switch s {
	case PoweredOff:
		return "powered_off"
	case PoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Advertisement is a single discovery event as delivered by the scan stream.
type Advertisement interface {
	LocalName() string
	Services() []string
	Connectable() bool
	RSSI() int
	Addr() string
}

// Descriptor identifies a discovered peripheral. It is produced by the scan and
// never persisted beyond the process.
//
//nolint:revive // Descriptor name is intentional when used as device.Descriptor
type Descriptor struct {
	ID                 string   `json:"id"`
	DisplayName        string   `json:"displayName"`
	AdvertisedServices []string `json:"advertisedServices"`
	RSSI               int      `json:"rssi"`
}

// NewDescriptor builds a Descriptor from an advertisement. Service UUIDs are
// normalized and sorted for stable comparisons.
func NewDescriptor(adv Advertisement) Descriptor {
	services := make([]string, 0, len(adv.Services()))
	for _, svc := range adv.Services() {
		if n := NormalizeUUID(svc); n != "" {
			services = append(services, n)
		}
	}
	sort.Strings(services)

	return Descriptor{
		ID:                 adv.Addr(),
		DisplayName:        strings.TrimSpace(adv.LocalName()),
		AdvertisedServices: services,
		RSSI:               adv.RSSI(),
	}
}

// IsZero reports whether the descriptor is unset.
func (d Descriptor) IsZero() bool {
	return d.ID == ""
}

// HasService reports whether the descriptor advertises the given service (case-insensitive).
func (d Descriptor) HasService(uuid string) bool {
	want := NormalizeUUID(uuid)
	if want == "" {
		return false
	}
	for _, s := range d.AdvertisedServices {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// String renders the descriptor for logs.
func (d Descriptor) String() string {
	if d.DisplayName == "" {
		return d.ID
	}
	return fmt.Sprintf("%s (%s)", d.DisplayName, d.ID)
}

// Radio is the single live handle on the scanning and connection subsystem.
// Implementations must make Reset destroy and recreate the underlying stack.
type Radio interface {
	PowerState(ctx context.Context) (PowerState, error)
	SetPower(ctx context.Context, on bool) error

	// Scan blocks, delivering advertisements to handler, until ctx is done or
	// StopScan is called. allowDup=false filters duplicate advertisements.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	StopScan() error

	Connect(ctx context.Context, address string, opts *ConnectOptions) (Client, error)

	// Reset tears down every connection and recreates the stack instance.
	Reset(ctx context.Context) error
}

// Client is a live connection to one peripheral.
type Client interface {
	Address() string
	DiscoverServices(ctx context.Context) ([]Service, error)
	WriteWithoutResponse(service, characteristic string, data []byte) error
	CancelConnection() error
}

// Service represents a GATT service interface
type Service interface {
	UUID() string
	GetCharacteristics() []Characteristic
}

// Characteristic represents characteristic metadata
type Characteristic interface {
	UUID() string
	GetProperties() Properties
}

// Property represents a single BLE characteristic property
type Property interface {
	Value() int
	KnownName() string
}

// Properties represent a collection of BLE characteristic properties
type Properties interface {
	Read() Property
	Write() Property
	WriteWithoutResponse() Property
	Notify() Property
	Indicate() Property
}

// IsWritable reports whether the properties allow writes with or without acknowledgement.
func IsWritable(p Properties) bool {
	if p == nil {
		return false
	}
	return hasProperty(p.Write()) || hasProperty(p.WriteWithoutResponse())
}

func hasProperty(p Property) bool {
	return p != nil && p.Value() != 0
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	ConnectTimeout time.Duration
	MTU            int // requested ATT MTU; 0 leaves the default
}
