// Package transport moves DHCP messages between the client and the network.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

const (
	ClientPort = dhcpv4.ClientPort
	ServerPort = dhcpv4.ServerPort
)

// Transport is a UDP endpoint bound to the DHCP client port of one interface.
type Transport interface {
	// SendBroadcast sends b to the limited broadcast address.
	SendBroadcast(b []byte) error
	// SendUnicast sends b to the server at ip.
	SendUnicast(ip net.IP, b []byte) error
	// Receive blocks until a datagram arrives, the deadline passes or ctx is
	// done. An expired deadline is reported as ok == false with a nil error.
	Receive(ctx context.Context, deadline time.Time) (b []byte, ok bool, err error)
	Close() error
}

// Opener acquires a Transport. The caller owns the result and must close it.
type Opener func() (Transport, error)

// Error is a failure of the underlying socket.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// interruptOnDone unblocks a pending read on conn when ctx is done. The
// returned func must be called once the read returned; it waits for the
// watcher to exit, so no deadline is touched after it returns.
func interruptOnDone(ctx context.Context, conn readDeadliner) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
