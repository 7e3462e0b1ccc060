package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/monitoring"
)

// UDPSink sends each command as one JSON datagram. Useful for SITL
// setups and for feeding a ground-station listener during bench tests.
// It implements loop.CommandSink.
type UDPSink struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	link loop.LinkHealth
}

// NewUDPSink creates a sink targeting addr (host:port).
func NewUDPSink(addr string) *UDPSink {
	return &UDPSink{addr: addr}
}

// Open resolves and connects the UDP socket.
func (u *UDPSink) Open() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return nil
	}
	conn, err := net.Dial("udp", u.addr)
	if err != nil {
		u.link = loop.LinkHealth{Connected: false, LastError: err.Error()}
		return fmt.Errorf("failed to dial %s: %w", u.addr, err)
	}
	u.conn = conn
	u.link = loop.LinkHealth{Connected: true}
	monitoring.Logf("[telemetry] udp sink sending to %s", u.addr)
	return nil
}

// Submit sends one command datagram.
func (u *UDPSink) Submit(ctx context.Context, cmd loop.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return loop.ErrLinkDisconnected
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		u.conn.SetWriteDeadline(deadline)
	}
	if _, err := u.conn.Write(payload); err != nil {
		u.link = loop.LinkHealth{Connected: false, LastError: err.Error()}
		return fmt.Errorf("%w: %v", loop.ErrLinkDisconnected, err)
	}
	u.link = loop.LinkHealth{Connected: true}
	return nil
}

// Health returns the link state as of the last Open or Submit.
func (u *UDPSink) Health() loop.LinkHealth {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.link
}

// Close closes the socket. Safe to call when never opened.
func (u *UDPSink) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	u.link = loop.LinkHealth{Connected: false}
	return err
}
