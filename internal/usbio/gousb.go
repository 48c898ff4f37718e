package usbio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/gousb"
)

// OpenBus probes the platform backend and returns a Bus backed by gousb.
// The probe runs before any libusb call so a missing backend is reported
// without attempting enumeration.
func OpenBus() (Bus, error) {
	if err := probeBackend(); err != nil {
		return nil, err
	}
	return &gousbBus{ctx: gousb.NewContext()}, nil
}

type gousbBus struct {
	ctx *gousb.Context
}

func (b *gousbBus) List() ([]DeviceDesc, error) {
	var descs []DeviceDesc
	// The opener callback sees every attached device; returning false
	// keeps them all closed.
	devs, err := b.ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		descs = append(descs, DeviceDesc{
			Bus:     d.Bus,
			Address: d.Address,
			Vendor:  ID(d.Vendor),
			Product: ID(d.Product),
		})
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return descs, fmt.Errorf("enumerating devices: %w", err)
	}
	return descs, nil
}

func (b *gousbBus) Open(vendor, product ID) (Device, error) {
	dev, err := b.ctx.OpenDeviceWithVIDPID(gousb.ID(vendor), gousb.ID(product))
	if err != nil {
		return nil, fmt.Errorf("opening device %s:%s: %w", vendor, product, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %s:%s", ErrDeviceNotFound, vendor, product)
	}
	return &gousbDevice{dev: dev}, nil
}

func (b *gousbBus) Close() error {
	return b.ctx.Close()
}

type gousbDevice struct {
	dev *gousb.Device
	cfg *gousb.Config
}

func (d *gousbDevice) Desc() DeviceDesc {
	desc := d.dev.Desc
	return DeviceDesc{
		Bus:     desc.Bus,
		Address: desc.Address,
		Vendor:  ID(desc.Vendor),
		Product: ID(desc.Product),
	}
}

func (d *gousbDevice) Reset() error {
	return d.dev.Reset()
}

func (d *gousbDevice) SetAutoDetach(on bool) error {
	return d.dev.SetAutoDetach(on)
}

func (d *gousbDevice) SetConfiguration() error {
	num, err := d.dev.ActiveConfigNum()
	if err != nil || num == 0 {
		num = 1
	}
	cfg, err := d.dev.Config(num)
	if err != nil {
		return fmt.Errorf("selecting configuration %d: %w", num, err)
	}
	d.cfg = cfg
	return nil
}

func (d *gousbDevice) ClaimDefault() (Interface, error) {
	if d.cfg == nil {
		if err := d.SetConfiguration(); err != nil {
			return nil, err
		}
	}
	intf, err := d.cfg.Interface(0, 0)
	if err != nil {
		return nil, fmt.Errorf("claiming interface 0: %w", err)
	}
	return &gousbInterface{intf: intf}, nil
}

func (d *gousbDevice) Close() error {
	var errs []error
	if d.cfg != nil {
		if err := d.cfg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing configuration: %w", err))
		}
		d.cfg = nil
	}
	if err := d.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing device: %w", err))
	}
	return errors.Join(errs...)
}

type gousbInterface struct {
	intf *gousb.Interface
}

func (i *gousbInterface) Endpoints() []EndpointDesc {
	var eps []EndpointDesc
	for _, ep := range i.intf.Setting.Endpoints {
		eps = append(eps, convertEndpoint(ep))
	}
	// Setting.Endpoints is a map; sort for a stable scan order.
	sort.Slice(eps, func(a, b int) bool { return eps[a].Address() < eps[b].Address() })
	return eps
}

func (i *gousbInterface) Out(number int) (Endpoint, error) {
	ep, err := i.intf.OutEndpoint(number)
	if err != nil {
		return nil, fmt.Errorf("opening OUT endpoint %d: %w", number, err)
	}
	return &gousbOutEndpoint{ep: ep}, nil
}

func (i *gousbInterface) In(number int) (Endpoint, error) {
	ep, err := i.intf.InEndpoint(number)
	if err != nil {
		return nil, fmt.Errorf("opening IN endpoint %d: %w", number, err)
	}
	return &gousbInEndpoint{ep: ep}, nil
}

func (i *gousbInterface) Close() {
	i.intf.Close()
}

type gousbOutEndpoint struct {
	ep *gousb.OutEndpoint
}

func (e *gousbOutEndpoint) Desc() EndpointDesc {
	return convertEndpoint(e.ep.Desc)
}

func (e *gousbOutEndpoint) Transfer(p []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := e.ep.WriteContext(ctx, p)
	return n, classifyTransferErr(err)
}

type gousbInEndpoint struct {
	ep *gousb.InEndpoint
}

func (e *gousbInEndpoint) Desc() EndpointDesc {
	return convertEndpoint(e.ep.Desc)
}

func (e *gousbInEndpoint) Transfer(p []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := e.ep.ReadContext(ctx, p)
	return n, classifyTransferErr(err)
}

func convertEndpoint(ep gousb.EndpointDesc) EndpointDesc {
	desc := EndpointDesc{
		Number:        ep.Number,
		Direction:     DirectionOut,
		MaxPacketSize: ep.MaxPacketSize,
	}
	if ep.Direction == gousb.EndpointDirectionIn {
		desc.Direction = DirectionIn
	}
	switch ep.TransferType {
	case gousb.TransferTypeControl:
		desc.Type = TransferControl
	case gousb.TransferTypeIsochronous:
		desc.Type = TransferIsochronous
	case gousb.TransferTypeBulk:
		desc.Type = TransferBulk
	case gousb.TransferTypeInterrupt:
		desc.Type = TransferInterrupt
	}
	return desc
}

// classifyTransferErr folds the library's several timeout shapes (libusb
// timeout, transfer timeout status, context deadline after cancellation)
// into ErrTimeout so callers can classify with errors.Is.
func classifyTransferErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
