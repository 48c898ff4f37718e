package session

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbpulse/usbpulse/internal/usbio"
)

// --- fake bus ---

type fakeResult struct {
	n   int // -1 means "full buffer"
	err error
}

type fakeEndpoint struct {
	desc usbio.EndpointDesc

	mu      sync.Mutex
	calls   int
	results []fakeResult // script; the last entry repeats, empty means always succeed
}

func (e *fakeEndpoint) Desc() usbio.EndpointDesc { return e.desc }

func (e *fakeEndpoint) Transfer(p []byte, timeout time.Duration) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.calls
	e.calls++
	if len(e.results) == 0 {
		return len(p), nil
	}
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}
	r := e.results[idx]
	n := r.n
	if n < 0 {
		n = len(p)
	}
	return n, r.err
}

func (e *fakeEndpoint) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeInterface struct {
	eps    []usbio.EndpointDesc
	out    *fakeEndpoint
	in     *fakeEndpoint
	closed bool
}

func (i *fakeInterface) Endpoints() []usbio.EndpointDesc { return i.eps }

func (i *fakeInterface) Out(number int) (usbio.Endpoint, error) {
	if i.out == nil || i.out.desc.Number != number {
		return nil, fmt.Errorf("no OUT endpoint %d", number)
	}
	return i.out, nil
}

func (i *fakeInterface) In(number int) (usbio.Endpoint, error) {
	if i.in == nil || i.in.desc.Number != number {
		return nil, fmt.Errorf("no IN endpoint %d", number)
	}
	return i.in, nil
}

func (i *fakeInterface) Close() { i.closed = true }

type fakeDevice struct {
	desc usbio.DeviceDesc
	intf *fakeInterface

	resetErr  error
	configErr error
	detachErr error

	resetCalls  int
	configCalls int
	detachCalls int
	closed      bool
	closeErr    error
}

func (d *fakeDevice) Desc() usbio.DeviceDesc { return d.desc }

func (d *fakeDevice) Reset() error {
	d.resetCalls++
	return d.resetErr
}

func (d *fakeDevice) SetAutoDetach(on bool) error {
	d.detachCalls++
	return d.detachErr
}

func (d *fakeDevice) SetConfiguration() error {
	d.configCalls++
	return d.configErr
}

func (d *fakeDevice) ClaimDefault() (usbio.Interface, error) {
	return d.intf, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return d.closeErr
}

type fakeBus struct {
	attached []usbio.DeviceDesc
	device   *fakeDevice // the device Open can return

	listCalls int
	listErr   error
	closed    bool
}

func (b *fakeBus) List() ([]usbio.DeviceDesc, error) {
	b.listCalls++
	return b.attached, b.listErr
}

func (b *fakeBus) Open(vendor, product usbio.ID) (usbio.Device, error) {
	if b.device != nil && b.device.desc.Vendor == vendor && b.device.desc.Product == product {
		return b.device, nil
	}
	return nil, fmt.Errorf("%w: %s:%s", usbio.ErrDeviceNotFound, vendor, product)
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

// --- helpers ---

const (
	testVendor  usbio.ID = 0x1fae
	testProduct usbio.ID = 0x0013
)

func bulkOut() usbio.EndpointDesc {
	return usbio.EndpointDesc{Number: 2, Direction: usbio.DirectionOut, Type: usbio.TransferBulk, MaxPacketSize: 64}
}

func bulkIn() usbio.EndpointDesc {
	return usbio.EndpointDesc{Number: 1, Direction: usbio.DirectionIn, Type: usbio.TransferBulk, MaxPacketSize: 64}
}

// newFakeBus builds a bus holding one matching device with the given
// endpoints. Pass a nil desc pointer to omit that endpoint.
func newFakeBus(out, in *usbio.EndpointDesc) *fakeBus {
	desc := usbio.DeviceDesc{Bus: 1, Address: 4, Vendor: testVendor, Product: testProduct}
	intf := &fakeInterface{}
	if out != nil {
		intf.eps = append(intf.eps, *out)
		intf.out = &fakeEndpoint{desc: *out}
	}
	if in != nil {
		intf.eps = append(intf.eps, *in)
		intf.in = &fakeEndpoint{desc: *in}
	}
	return &fakeBus{
		attached: []usbio.DeviceDesc{
			{Bus: 1, Address: 2, Vendor: 0x046d, Product: 0xc52b},
			desc,
		},
		device: &fakeDevice{desc: desc, intf: intf},
	}
}

func testSession(openBus func() (usbio.Bus, error), strategy setupStrategy) *Session {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Session{
		log:     logger.WithField("component", "session"),
		vendor:  testVendor,
		product: testProduct,
		tuning: Tuning{
			PacketSize:      64,
			TransferTimeout: 20 * time.Millisecond,
			Interval:        time.Millisecond,
		},
		openBus: openBus,
		setup:   strategy,
	}
}

func busOpener(b *fakeBus) func() (usbio.Bus, error) {
	return func() (usbio.Bus, error) { return b, nil }
}

// --- tests ---

func TestStartDeviceNotFound(t *testing.T) {
	bus := newFakeBus(nil, nil)
	bus.device = nil // nothing on the bus matches

	s := testSession(busOpener(bus), detachSetup{})
	err := s.Start()
	require.ErrorIs(t, err, usbio.ErrDeviceNotFound)
	assert.False(t, s.Stats().Running)
	assert.True(t, bus.closed, "bus should be released after a failed start")
	assert.Equal(t, 1, bus.listCalls, "enumeration should run before matching")
}

func TestStartBackendNotFound(t *testing.T) {
	bus := newFakeBus(ptr(bulkOut()), nil)
	s := testSession(func() (usbio.Bus, error) {
		return nil, usbio.ErrBackendNotFound
	}, detachSetup{})

	err := s.Start()
	require.ErrorIs(t, err, usbio.ErrBackendNotFound)
	assert.Equal(t, 0, bus.listCalls, "no enumeration without a backend")
	assert.False(t, s.Stats().Running)
}

func TestStartNoOutputEndpoint(t *testing.T) {
	// Device exposes only a bulk IN and an interrupt OUT.
	in := bulkIn()
	bus := newFakeBus(nil, &in)
	bus.device.intf.eps = append(bus.device.intf.eps, usbio.EndpointDesc{
		Number: 3, Direction: usbio.DirectionOut, Type: usbio.TransferInterrupt,
	})

	s := testSession(busOpener(bus), detachSetup{})
	err := s.Start()
	require.ErrorIs(t, err, ErrNoOutputEndpoint)
	assert.False(t, s.Stats().Running)
	assert.True(t, bus.device.closed, "device should be released after a failed start")
}

func TestCountersMatchTransfers(t *testing.T) {
	out, in := bulkOut(), bulkIn()
	bus := newFakeBus(&out, &in)

	s := testSession(busOpener(bus), detachSetup{})
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return s.Stats().Packets >= 5
	}, time.Second, time.Millisecond)

	s.Stop()

	stats := s.Stats()
	assert.False(t, stats.Running)
	assert.True(t, stats.InEndpoint)
	// Every completed iteration writes 64 bytes and reads 64 back.
	assert.Equal(t, 128*stats.Packets, stats.Bytes)
	assert.True(t, bus.device.closed)
	assert.True(t, bus.device.intf.closed)
	assert.True(t, bus.closed)
}

func TestReadTimeoutDoesNotStopLoop(t *testing.T) {
	out, in := bulkOut(), bulkIn()
	bus := newFakeBus(&out, &in)
	bus.device.intf.in.results = []fakeResult{
		{n: 0, err: fmt.Errorf("%w: no data", usbio.ErrTimeout)},
	}

	s := testSession(busOpener(bus), detachSetup{})
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return s.Stats().Packets >= 3
	}, time.Second, time.Millisecond)
	assert.True(t, s.Stats().Running, "timed-out reads must not stop the loop")

	s.Stop()
	stats := s.Stats()
	// Reads never delivered data, so bytes come from writes alone.
	assert.Equal(t, 64*stats.Packets, stats.Bytes)
}

func TestWriteErrorStopsLoop(t *testing.T) {
	out := bulkOut()
	bus := newFakeBus(&out, nil)
	bus.device.intf.out.results = []fakeResult{
		{n: -1},
		{n: 0, err: errors.New("endpoint stalled")},
	}

	s := testSession(busOpener(bus), detachSetup{})
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return !s.Stats().Running
	}, time.Second, time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Packets)
	assert.Equal(t, uint64(64), stats.Bytes)
	assert.False(t, stats.InEndpoint)

	s.Stop()
	assert.True(t, bus.device.closed)
}

func TestStartAfterLoopErrorReleasesHandles(t *testing.T) {
	out := bulkOut()
	bus1 := newFakeBus(&out, nil)
	bus1.device.intf.out.results = []fakeResult{
		{n: 0, err: errors.New("endpoint stalled")},
	}
	bus2 := newFakeBus(&out, nil)

	buses := []*fakeBus{bus1, bus2}
	calls := 0
	opener := func() (usbio.Bus, error) {
		b := buses[calls]
		calls++
		return b, nil
	}

	s := testSession(opener, detachSetup{})
	require.NoError(t, s.Start())

	// The loop dies on its first write; its handles stay held for
	// whoever acts next.
	require.Eventually(t, func() bool {
		return !s.Stats().Running
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Start())
	assert.True(t, bus1.device.intf.closed, "first interface must be released before reacquiring")
	assert.True(t, bus1.device.closed, "first device must be released before reacquiring")
	assert.True(t, bus1.closed, "first bus must be closed before reacquiring")
	assert.True(t, s.Stats().Running)

	s.Stop()
	assert.True(t, bus2.device.closed)
	assert.True(t, bus2.closed)
}

func TestReadErrorStopsLoop(t *testing.T) {
	out, in := bulkOut(), bulkIn()
	bus := newFakeBus(&out, &in)
	bus.device.intf.in.results = []fakeResult{
		{n: 0, err: io.ErrUnexpectedEOF},
	}

	s := testSession(busOpener(bus), detachSetup{})
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return !s.Stats().Running
	}, time.Second, time.Millisecond)

	// The loop must die within its first iteration.
	assert.Equal(t, uint64(1), s.Stats().Packets)
	s.Stop()
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	s := testSession(func() (usbio.Bus, error) {
		t.Fatal("stop must not touch the bus")
		return nil, nil
	}, detachSetup{})

	s.Stop()

	stats := s.Stats()
	assert.False(t, stats.Running)
	assert.Zero(t, stats.Packets)
	assert.Zero(t, stats.Bytes)
}

func TestStartWhileRunning(t *testing.T) {
	out := bulkOut()
	bus := newFakeBus(&out, nil)

	s := testSession(busOpener(bus), detachSetup{})
	require.NoError(t, s.Start())
	defer s.Stop()

	err := s.Start()
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestCountersSurviveRestart(t *testing.T) {
	// Each start gets a fresh bus, as OpenBus would provide.
	opener := func() (usbio.Bus, error) {
		out := bulkOut()
		return newFakeBus(&out, nil), nil
	}

	s := testSession(opener, detachSetup{})
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		return s.Stats().Packets >= 2
	}, time.Second, time.Millisecond)
	s.Stop()

	firstRun := s.Stats()

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		return s.Stats().Packets >= firstRun.Packets+2
	}, time.Second, time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, s.Stats().Packets, firstRun.Packets+2,
		"counters continue across stop/start, resetting only with the process")
}

func TestConfigurationWarningIsNonFatal(t *testing.T) {
	// The reset-then-configure path treats both steps as best-effort.
	out := bulkOut()
	bus := newFakeBus(&out, nil)
	bus.device.resetErr = errors.New("reset not supported")
	bus.device.configErr = errors.New("configuration rejected")

	s := testSession(busOpener(bus), resetSetup{})
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return s.Stats().Packets >= 1
	}, time.Second, time.Millisecond)

	s.Stop()
	assert.Equal(t, 1, bus.device.resetCalls)
	assert.Equal(t, 1, bus.device.configCalls)
}

func TestReleaseFailureIsSwallowed(t *testing.T) {
	out := bulkOut()
	bus := newFakeBus(&out, nil)
	bus.device.closeErr = errors.New("release failed")

	s := testSession(busOpener(bus), detachSetup{})
	require.NoError(t, s.Start())

	// Stop must not panic or surface the close error.
	s.Stop()
	assert.True(t, bus.device.closed)
	assert.True(t, bus.closed)
}

func ptr(d usbio.EndpointDesc) *usbio.EndpointDesc { return &d }
