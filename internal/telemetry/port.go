// Package telemetry delivers target-position commands to the flight
// controller. Commands travel as newline-delimited JSON over a serial
// link or as single-datagram JSON over UDP.
package telemetry

import (
	"io"
)

// Porter is the minimal interface the serial sink needs from a port.
type Porter interface {
	io.ReadWriter
	io.Closer
}
