//go:build !windows

package usbio

// probeBackend is a no-op outside Windows: libusb is linked into the
// binary, so there is no separate library to locate.
func probeBackend() error {
	return nil
}
