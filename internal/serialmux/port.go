package serialmux

import "io"

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortFactory opens serial ports. It lets the daemon be tested
// without a device attached.
type SerialPortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}
