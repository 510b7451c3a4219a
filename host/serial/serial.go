package serial

import (
	"io"
)

// Port is a byte stream to a burstlink device:
// - Native serial (github.com/tarm/serial)
// - In-memory pipes (tests, the simulator)
type Port interface {
	io.ReadWriteCloser

	// Flush discards data buffered by the driver
	Flush() error
}

// Config holds serial port settings
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC ignores it.
	Baud int

	// Read timeout in milliseconds (0 = blocking). The receiver's read loop
	// uses it to notice shutdown.
	ReadTimeout int
}

// DefaultBaud matches the device UART setting
const DefaultBaud = 921600

// DefaultConfig returns settings for device at DefaultBaud with a 100ms
// read timeout
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}

// pipePort joins an in-memory reader and writer into a Port
type pipePort struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (p *pipePort) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *pipePort) Flush() error { return nil }

// Pipe returns two connected in-memory ports. Bytes written to one are read
// from the other.
func Pipe() (Port, Port) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &pipePort{Reader: ar, Writer: aw, closers: []io.Closer{ar, aw}}
	b := &pipePort{Reader: br, Writer: bw, closers: []io.Closer{br, bw}}
	return a, b
}
