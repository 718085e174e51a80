// Package routeros is the device session adapter for RouterOS access
// routers. It exposes typed records for the tables the monitor polls, a
// Session capability interface, and an SSH transport that drives the
// RouterOS CLI.
package routeros

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ErrNotConnected is returned by every Session call made without a live
// connection, and wraps transport failures that dropped the connection.
var ErrNotConnected = errors.New("routeros: not connected")

// Target identifies one device to connect to.
type Target struct {
	Address  string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// Addr returns host:port, defaulting to the SSH port.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(port))
}

// Printer runs a print over a menu path and returns the projected fields.
type Printer interface {
	Print(ctx context.Context, path string, fields ...string) ([]Record, error)
}

// Reader is the read side of a device session: the bulk tables polled
// every cycle.
type Reader interface {
	Printer
	ActiveSessions(ctx context.Context) ([]ActiveSession, error)
	ARPTable(ctx context.Context) ([]ARPEntry, error)
	Leases(ctx context.Context) ([]Lease, error)
	Secrets(ctx context.Context) ([]Secret, error)
	Resource(ctx context.Context) (*SystemResource, error)
}

// Mutator applies subscriber service changes. Every mutation is idempotent:
// suspending a suspended service or deleting a missing one succeeds.
type Mutator interface {
	CreateService(ctx context.Context, svc ServiceRecord) error
	UpdateService(ctx context.Context, svc ServiceRecord) error
	SuspendService(ctx context.Context, svc ServiceRecord) error
	RestoreService(ctx context.Context, svc ServiceRecord) error
	DeleteService(ctx context.Context, svc ServiceRecord) error
}

// Session is one managed connection to a device.
type Session interface {
	Reader
	Mutator
	Connect(ctx context.Context, target Target) error
	Connected() bool
	Close() error
}

// Dialer creates unconnected sessions. The monitor asks for a fresh
// session on every connect attempt.
type Dialer interface {
	NewSession() Session
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func() Session

// NewSession calls f.
func (f DialerFunc) NewSession() Session { return f() }

// CommandError is a command the device rejected.
type CommandError struct {
	Command string
	Output  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("routeros: command %q failed: %s", e.Command, e.Output)
}

// IsConnectivityError reports whether err means the device could not be
// reached or the connection dropped, as opposed to the device rejecting a
// command.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
