//go:build windows

package usbio

import (
	"fmt"
	"os"
	"path/filepath"
)

// probeBackend checks the locations where a libusb-1.0 install places its
// DLL on Windows. gousb loads the library at startup, so finding none of
// these means device access will fail; report that up front.
func probeBackend() error {
	paths := []string{
		filepath.Join(os.Getenv("SystemRoot"), "System32", "libusb-1.0.dll"),
		filepath.Join(os.Getenv("ProgramFiles"), "LibUSB-Win32", "bin", "libusb-1.0.dll"),
		filepath.Join(os.Getenv("ProgramFiles(x86)"), "LibUSB-Win32", "bin", "libusb-1.0.dll"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: libusb-1.0.dll not present in any known location", ErrBackendNotFound)
}
