package dhcptest

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cimnine/netbox-dhclient/dhcp/transport"
)

// ErrExhausted is returned by Receive once MaxReceives is reached.
var ErrExhausted = errors.New("dhcptest: receive limit reached")

// Datagram is a message sent by the client. To is nil for broadcasts.
type Datagram struct {
	To      net.IP
	Payload []byte
	At      time.Time
}

// Conn is an in-memory transport.Transport. Every sent datagram is passed
// to Handler and a non-nil reply is queued for the next Receive. Receive
// with an empty queue advances Clock to the deadline and times out.
type Conn struct {
	Clock   *Clock
	Handler func(Datagram) []byte
	// Drop, when set, decides which datagrams never reach Handler.
	Drop func(Datagram) bool
	// SendErr fails every send.
	SendErr error
	// MaxReceives bounds the number of Receive calls, zero meaning no bound.
	MaxReceives int

	mu       sync.Mutex
	sent     []Datagram
	inbox    [][]byte
	receives int
	closed   bool
	opened   int
}

var _ transport.Transport = (*Conn)(nil)

func NewConn(clock *Clock, handler func(Datagram) []byte) *Conn {
	return &Conn{Clock: clock, Handler: handler}
}

// Opener returns a transport.Opener handing out c.
func (c *Conn) Opener() transport.Opener {
	return func() (transport.Transport, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.opened++
		c.closed = false
		return c, nil
	}
}

func (c *Conn) SendBroadcast(b []byte) error {
	return c.send(nil, b)
}

func (c *Conn) SendUnicast(ip net.IP, b []byte) error {
	return c.send(ip, b)
}

func (c *Conn) send(to net.IP, b []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &transport.Error{Op: "send", Err: net.ErrClosed}
	}
	if c.SendErr != nil {
		c.mu.Unlock()
		return &transport.Error{Op: "send", Err: c.SendErr}
	}
	d := Datagram{To: to, Payload: append([]byte{}, b...), At: c.Clock.Now()}
	c.sent = append(c.sent, d)
	drop, handler := c.Drop, c.Handler
	c.mu.Unlock()

	if handler == nil || (drop != nil && drop(d)) {
		return nil
	}
	if reply := handler(d); reply != nil {
		c.Deliver(reply)
	}
	return nil
}

// Deliver queues b for the next Receive.
func (c *Conn) Deliver(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = append(c.inbox, b)
}

func (c *Conn) Receive(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, &transport.Error{Op: "receive", Err: net.ErrClosed}
	}
	c.receives++
	if c.MaxReceives > 0 && c.receives > c.MaxReceives {
		return nil, false, ErrExhausted
	}

	if len(c.inbox) > 0 {
		b := c.inbox[0]
		c.inbox = c.inbox[1:]
		return b, true, nil
	}
	c.Clock.AdvanceTo(deadline)
	return nil, false, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (c *Conn) Sent() []Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Datagram(nil), c.sent...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Opened counts the calls of the Opener.
func (c *Conn) Opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}
