// Package usbio defines the capability set the traffic session needs from
// a USB host-controller library: enumerate the bus, open a device by
// vendor/product identifier, reset/detach/configure it, claim the default
// interface, and run bounded-wait bulk transfers. The gousb adapter in this
// package is the production implementation; tests substitute a fake bus.
package usbio

import (
	"errors"
	"fmt"
	"time"
)

// ID is a 16-bit vendor or product identifier.
type ID uint16

func (id ID) String() string { return fmt.Sprintf("%04x", uint16(id)) }

// Direction of an endpoint, from the host's point of view.
type Direction uint8

const (
	DirectionOut Direction = iota // host to device
	DirectionIn                   // device to host
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

// TransferType mirrors the USB endpoint attribute transfer types.
type TransferType uint8

const (
	TransferControl TransferType = iota
	TransferIsochronous
	TransferBulk
	TransferInterrupt
)

// DeviceDesc identifies one device on the bus.
type DeviceDesc struct {
	Bus     int
	Address int
	Vendor  ID
	Product ID
}

func (d DeviceDesc) String() string {
	return fmt.Sprintf("%s:%s (bus %d, addr %d)", d.Vendor, d.Product, d.Bus, d.Address)
}

// EndpointDesc describes one endpoint of an interface setting.
type EndpointDesc struct {
	Number        int
	Direction     Direction
	Type          TransferType
	MaxPacketSize int
}

// Address returns the wire endpoint address: the endpoint number with
// bit 7 set for IN endpoints (e.g. OUT 2 -> 0x02, IN 1 -> 0x81).
func (e EndpointDesc) Address() uint8 {
	addr := uint8(e.Number)
	if e.Direction == DirectionIn {
		addr |= 0x80
	}
	return addr
}

var (
	// ErrBackendNotFound means the host-controller access library is not
	// installed where this platform expects it.
	ErrBackendNotFound = errors.New("usb backend library not found")

	// ErrDeviceNotFound means no attached device matched the requested
	// vendor/product identifiers.
	ErrDeviceNotFound = errors.New("usb device not found")

	// ErrTimeout classifies a bounded-wait transfer that expired before
	// any data moved. Callers treat it as expected on the read path.
	ErrTimeout = errors.New("usb transfer timed out")
)

// Bus enumerates and opens devices.
type Bus interface {
	// List describes every attached device without opening any of them.
	List() ([]DeviceDesc, error)

	// Open claims the first device matching vendor/product. It returns
	// ErrDeviceNotFound when no attached device matches.
	Open(vendor, product ID) (Device, error)

	Close() error
}

// Device is one opened device.
type Device interface {
	Desc() DeviceDesc

	// Reset performs a port reset.
	Reset() error

	// SetAutoDetach arranges for any kernel driver claim on an interface
	// to be released before the interface is claimed here.
	SetAutoDetach(on bool) error

	// SetConfiguration activates the device's active (or first)
	// configuration.
	SetConfiguration() error

	// ClaimDefault claims interface 0, alternate setting 0 of the active
	// configuration.
	ClaimDefault() (Interface, error)

	Close() error
}

// Interface is a claimed interface setting.
type Interface interface {
	// Endpoints lists the setting's endpoints in a stable order.
	Endpoints() []EndpointDesc

	// Out opens the OUT endpoint with the given number.
	Out(number int) (Endpoint, error)

	// In opens the IN endpoint with the given number.
	In(number int) (Endpoint, error)

	Close()
}

// Endpoint performs bounded-wait transfers: writes for OUT endpoints,
// reads for IN endpoints. A wait expiring with no data surfaces as
// ErrTimeout (possibly wrapped).
type Endpoint interface {
	Desc() EndpointDesc
	Transfer(p []byte, timeout time.Duration) (int, error)
}

// FindBulk scans endpoint descriptors for the bulk OUT endpoint the
// transfer loop writes to and, optionally, a bulk IN endpoint to read
// replies from. Either result may be nil.
func FindBulk(eps []EndpointDesc) (out, in *EndpointDesc) {
	for i := range eps {
		ep := &eps[i]
		if ep.Type != TransferBulk {
			continue
		}
		if ep.Direction == DirectionOut && out == nil {
			out = ep
		} else if ep.Direction == DirectionIn && in == nil {
			in = ep
		}
	}
	return out, in
}
