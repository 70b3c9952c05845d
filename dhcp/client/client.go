package client

import (
	"context"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cimnine/netbox-dhclient/dhcp/transport"
	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

// Applier configures the interface with a lease and removes it again.
type Applier interface {
	Apply(ctx context.Context, l v4.Lease) error
	Revoke(ctx context.Context, l v4.Lease) error
}

// LeaseStore persists the last lease of an interface across restarts.
type LeaseStore interface {
	// Load returns nil and no error when nothing is stored.
	Load(iface string) (*v4.Lease, error)
	Save(iface string, l v4.Lease) error
	Delete(iface string) error
}

// Client runs the Machine of one interface against a Transport.
type Client struct {
	iface   string
	open    transport.Opener
	applier Applier
	cfg     Config
	store   LeaseStore
	now     func() time.Time
	log     *logrus.Entry

	releaseOnShutdown bool
	release           chan struct{}
}

type Option func(*Client)

func WithLeaseStore(s LeaseStore) Option {
	return func(c *Client) { c.store = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithReleaseOnShutdown sends a RELEASE when Run's context is cancelled
// while a lease is held.
func WithReleaseOnShutdown(release bool) Option {
	return func(c *Client) { c.releaseOnShutdown = release }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

func New(iface string, open transport.Opener, applier Applier, cfg Config, opts ...Option) *Client {
	c := &Client{
		iface:   iface,
		open:    open,
		applier: applier,
		cfg:     cfg,
		now:     time.Now,
		release: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.WithField("iface", iface)
	}
	if c.cfg.Log == nil {
		c.cfg.Log = c.log
	}
	return c
}

// Release makes Run give up the current lease and return. It may be called
// from any goroutine and does not wait for Run.
func (c *Client) Release() {
	select {
	case c.release <- struct{}{}:
	default:
	}
}

// Run acquires and maintains a lease until ctx is done or Release is
// called, in which case it returns nil. Failures of the transport end Run
// with a *transport.Error.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.open()
	if err != nil {
		return errors.Wrapf(err, "can't open transport on '%s'", c.iface)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.log.WithError(err).Debug("Can't close transport")
		}
	}()

	cfg := c.cfg
	if cfg.RequestedIP == nil {
		cfg.RequestedIP = c.storedAddress()
	}
	m := NewMachine(cfg)

	c.log.Info("Starting DHCP client")
	for {
		select {
		case <-ctx.Done():
			if c.releaseOnShutdown {
				c.exec(context.Background(), conn, m.Release(c.now()))
			}
			c.log.Info("DHCP client stopped")
			return nil
		case <-c.release:
			c.exec(ctx, conn, m.Release(c.now()))
			return nil
		default:
		}

		a := m.Next(c.now())
		if a.Kind != ActionWait {
			if err := c.do(ctx, conn, a); err != nil {
				return err
			}
			continue
		}

		b, ok, err := c.wait(ctx, conn, a.Deadline)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				continue
			}
			c.log.WithError(err).Error("Can't receive")
			return err
		}
		if !ok {
			continue
		}

		msg, err := v4.Decode(b)
		if err != nil {
			c.log.WithError(err).Debug("Discarding undecodable packet")
			continue
		}
		c.trace("Received", b)
		m.Receive(c.now(), msg)
	}
}

// wait receives until deadline. A call of Release interrupts it.
func (c *Client) wait(ctx context.Context, conn transport.Transport, deadline time.Time) ([]byte, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.release:
			// hand it back to the loop
			c.Release()
			cancel()
		case <-stop:
		}
	}()

	return conn.Receive(ctx, deadline)
}

// exec runs the actions handed out by Machine.Release. Failures are logged
// only; the client is going away.
func (c *Client) exec(ctx context.Context, conn transport.Transport, actions []Action) {
	for _, a := range actions {
		if err := c.do(ctx, conn, a); err != nil {
			c.log.WithError(err).Warn("Can't release lease")
		}
	}
}

func (c *Client) do(ctx context.Context, conn transport.Transport, a Action) error {
	switch a.Kind {
	case ActionSend:
		return c.send(conn, a.Message, a.To)

	case ActionApply:
		log := c.log.WithField("address", a.Lease.Address)
		if err := c.applier.Apply(ctx, a.Lease); err != nil {
			log.WithError(err).Warn("Can't apply lease")
		}
		if c.store != nil {
			if err := c.store.Save(c.iface, a.Lease); err != nil {
				log.WithError(err).Warn("Can't store lease")
			}
		}

	case ActionRevoke:
		log := c.log.WithField("address", a.Lease.Address)
		if err := c.applier.Revoke(ctx, a.Lease); err != nil {
			log.WithError(err).Warn("Can't revoke lease")
		}
		if c.store != nil {
			if err := c.store.Delete(c.iface); err != nil {
				log.WithError(err).Warn("Can't delete stored lease")
			}
		}
	}
	return nil
}

func (c *Client) send(conn transport.Transport, msg *v4.Message, to net.IP) error {
	b, err := v4.Encode(msg)
	if err != nil {
		// Only the Machine builds messages, so this is a programming error.
		return errors.Wrapf(err, "can't encode %s", msg)
	}
	c.trace("Sending", b)

	if to == nil {
		err = conn.SendBroadcast(b)
	} else {
		err = conn.SendUnicast(to, b)
	}
	if err != nil {
		c.log.WithError(err).Errorf("Can't send DHCP%s", msg.MessageType())
		return err
	}
	return nil
}

func (c *Client) storedAddress() net.IP {
	if c.store == nil {
		return nil
	}
	l, err := c.store.Load(c.iface)
	if err != nil {
		c.log.WithError(err).Warn("Can't load stored lease")
		return nil
	}
	if l == nil || l.Expired(c.now()) {
		return nil
	}
	c.log.WithField("address", l.Address).Debug("Requesting stored lease address")
	return l.Address
}

func (c *Client) trace(what string, b []byte) {
	if !c.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	d, err := dhcpv4.FromBytes(b)
	if err != nil {
		return
	}
	c.log.Tracef("%s %s", what, d.Summary())
}
