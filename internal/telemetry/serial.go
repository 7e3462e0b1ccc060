package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/monitoring"
)

// DefaultBaudRate matches the flight controller's telemetry port.
const DefaultBaudRate = 115200

// SerialSink writes commands as newline-delimited JSON to a serial port.
// It implements loop.CommandSink.
type SerialSink struct {
	path string
	baud int

	// openPort is swapped for a mock in tests.
	openPort func() (Porter, error)

	mu   sync.Mutex
	port Porter
	link loop.LinkHealth
}

// NewSerialSink creates a sink for the serial device at path. Baud rates
// below one fall back to DefaultBaudRate. The port is not opened until
// Open.
func NewSerialSink(path string, baud int) *SerialSink {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	s := &SerialSink{path: path, baud: baud}
	s.openPort = s.openReal
	return s
}

// NewMockSerialSink creates a sink backed by a mock port, for tests and
// bench rigs without hardware.
func NewMockSerialSink(port *MockPort) *SerialSink {
	s := &SerialSink{path: "mock"}
	s.openPort = func() (Porter, error) { return port, nil }
	return s
}

func (s *SerialSink) openReal() (Porter, error) {
	mode := &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Open opens the serial port.
func (s *SerialSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := s.openPort()
	if err != nil {
		s.link = loop.LinkHealth{Connected: false, LastError: err.Error()}
		return fmt.Errorf("failed to open serial port %s: %w", s.path, err)
	}
	s.port = port
	s.link = loop.LinkHealth{Connected: true}
	monitoring.Logf("[telemetry] serial port %s open at %d baud", s.path, s.baud)
	return nil
}

// Submit writes one command as a JSON line. A failed write marks the
// link disconnected; the next successful write marks it connected again.
func (s *SerialSink) Submit(ctx context.Context, cmd loop.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return loop.ErrLinkDisconnected
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := s.port.Write(payload); err != nil {
		s.link = loop.LinkHealth{Connected: false, LastError: err.Error()}
		return fmt.Errorf("%w: %v", loop.ErrLinkDisconnected, err)
	}
	s.link = loop.LinkHealth{Connected: true}
	return nil
}

// Health returns the link state as of the last Open or Submit.
func (s *SerialSink) Health() loop.LinkHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Close closes the port. Safe to call when never opened.
func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.link = loop.LinkHealth{Connected: false}
	return err
}
