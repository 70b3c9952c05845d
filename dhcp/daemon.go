package dhcp

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cimnine/netbox-dhclient/applier"
	"github.com/cimnine/netbox-dhclient/configuration"
	"github.com/cimnine/netbox-dhclient/dhcp/client"
	"github.com/cimnine/netbox-dhclient/dhcp/config"
	"github.com/cimnine/netbox-dhclient/dhcp/retry"
	"github.com/cimnine/netbox-dhclient/dhcp/transport"
	"github.com/cimnine/netbox-dhclient/leasestore"
	"github.com/cimnine/netbox-dhclient/netbox"
)

// stableRun is how long a client has to run before its restarts count from
// zero again.
const stableRun = 10 * time.Minute

// Daemon runs one Client per configured interface.
type Daemon struct {
	Configuration *configuration.Configuration

	netbox       *netbox.Client
	redis        *redis.Client
	lookup       func(name string) (*net.Interface, error)
	opener       func(kind string, iface *net.Interface) transport.Opener
	restart      retry.Policy
	clientOpts   []client.Option
	dhcpv4Client map[string]*client.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type DaemonOption func(*Daemon)

// WithNetbox enables the NetBox applier for interfaces asking for it.
func WithNetbox(c *netbox.Client) DaemonOption {
	return func(d *Daemon) { d.netbox = c }
}

// WithRedis keeps leases in redis next to the lease directory.
func WithRedis(c *redis.Client) DaemonOption {
	return func(d *Daemon) { d.redis = c }
}

// WithInterfaceLookup replaces net.InterfaceByName.
func WithInterfaceLookup(lookup func(name string) (*net.Interface, error)) DaemonOption {
	return func(d *Daemon) { d.lookup = lookup }
}

// WithOpener replaces the transports selected by the interface configuration.
func WithOpener(opener func(kind string, iface *net.Interface) transport.Opener) DaemonOption {
	return func(d *Daemon) { d.opener = opener }
}

// WithRestartPolicy paces the restarts of clients that lost their transport.
func WithRestartPolicy(p retry.Policy) DaemonOption {
	return func(d *Daemon) { d.restart = p }
}

// WithClientOptions passes options to every Client.
func WithClientOptions(opts ...client.Option) DaemonOption {
	return func(d *Daemon) { d.clientOpts = append(d.clientOpts, opts...) }
}

// DefaultRestartPolicy waits between one second and five minutes before a
// client gets a new transport and never gives up.
func DefaultRestartPolicy() retry.Policy {
	return retry.Policy{
		Base:       time.Second,
		Multiplier: 2,
		MaxTimeout: 5 * time.Minute,
		Jitter:     500 * time.Millisecond,
	}
}

func NewDaemon(conf *configuration.Configuration, opts ...DaemonOption) (*Daemon, error) {
	d := &Daemon{
		Configuration: conf,
		lookup:        net.InterfaceByName,
		opener:        openTransport,
		restart:       DefaultRestartPolicy(),
		dhcpv4Client:  make(map[string]*client.Client),
	}
	for _, opt := range opts {
		opt(d)
	}

	policy, err := conf.DHCP.Policy()
	if err != nil {
		return nil, errors.Wrap(err, "invalid retry policy")
	}
	leaseTime, err := conf.DHCP.RequestedLeaseTime()
	if err != nil {
		return nil, err
	}
	loopbackDNS, err := conf.DHCP.LoopbackDNSAddress()
	if err != nil {
		return nil, err
	}

	for name, ifaceConfig := range conf.Daemon.Interfaces {
		iface, err := d.lookup(name)
		if err != nil {
			return nil, errors.Wrapf(err, "can't find interface '%s'", name)
		}

		clientID, err := ifaceConfig.ClientID(iface)
		if err != nil {
			return nil, errors.Wrapf(err, "interface '%s'", name)
		}

		log := logrus.WithField("iface", name)
		cfg := client.Config{
			HardwareAddr: iface.HardwareAddr,
			ClientID:     clientID,
			HostName:     ifaceConfig.Hostname,
			LeaseTime:    leaseTime,
			Broadcast:    conf.DHCP.BroadcastFlag(),
			Policy:       policy,
			LoopbackDNS:  loopbackDNS,
			Log:          log,
		}

		clientOpts := append([]client.Option{
			client.WithLogger(log),
			client.WithReleaseOnShutdown(ifaceConfig.ReleaseOnShutdown),
		}, d.clientOpts...)
		if store := d.leaseStore(); store != nil {
			clientOpts = append(clientOpts, client.WithLeaseStore(store))
		}

		d.dhcpv4Client[name] = client.New(name, d.opener(ifaceConfig.TransportKind(), iface), d.appliers(name, iface, ifaceConfig, log), cfg, clientOpts...)
	}

	return d, nil
}

func openTransport(kind string, iface *net.Interface) transport.Opener {
	if kind == config.TransportRaw {
		return func() (transport.Transport, error) {
			return transport.ListenRaw(iface)
		}
	}
	return func() (transport.Transport, error) {
		return transport.ListenUDP(transport.UDPConfig{Interface: iface})
	}
}

func (d *Daemon) appliers(name string, iface *net.Interface, ifaceConfig config.InterfaceConfig, log *logrus.Entry) applier.Multi {
	appliers := applier.Multi{applier.Log{Log: log}}
	if ifaceConfig.Netcfg {
		appliers = append(appliers, applier.Netcfg{Root: d.Configuration.Daemon.NetcfgRoot, Iface: name})
	}
	if ifaceConfig.Script != "" {
		appliers = append(appliers, applier.Script{Command: ifaceConfig.Script, Iface: name, Log: log})
	}
	if ifaceConfig.NetBox && d.netbox != nil {
		appliers = append(appliers, applier.NetBox{Client: d.netbox, Iface: name, MAC: iface.HardwareAddr, Log: log})
	}
	return appliers
}

func (d *Daemon) leaseStore() client.LeaseStore {
	var stores []leasestore.Store
	if dir := d.Configuration.Daemon.LeaseDir; dir != "" {
		stores = append(stores, leasestore.File{Dir: filepath.Clean(dir)})
	}
	if d.redis != nil {
		stores = append(stores, leasestore.Redis{Client: d.redis})
	}

	switch len(stores) {
	case 0:
		return nil
	case 1:
		return stores[0]
	default:
		return leasestore.Chain{Stores: stores}
	}
}

// Run starts all clients and blocks until ctx is done, Shutdown is called or
// a client fails for good.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.mu.Lock()
	d.cancel, d.done = cancel, done
	d.mu.Unlock()
	defer close(done)
	defer cancel()

	logrus.Info("Starting daemon.")
	g, ctx := errgroup.WithContext(ctx)
	for name, c := range d.dhcpv4Client {
		name, c := name, c
		g.Go(func() error {
			return d.supervise(ctx, name, c)
		})
	}

	err := g.Wait()
	logrus.Info("Stopped daemon.")
	return err
}

// supervise runs c and restarts it whenever its transport fails.
func (d *Daemon) supervise(ctx context.Context, name string, c *client.Client) error {
	log := logrus.WithField("iface", name)
	backoff := retry.WithMaxRetries(retry.NewExponentialBackoff(d.restart, nil), uint64(d.restart.MaxAttempts))

	for {
		started := time.Now()
		err := c.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > stableRun {
			backoff.Reset()
		}

		var terr *transport.Error
		if !errors.As(err, &terr) {
			return errors.Wrapf(err, "client on '%s'", name)
		}

		wait := backoff.Next()
		if wait == retry.Stop {
			return errors.Wrapf(err, "client on '%s'", name)
		}
		log.WithError(err).Errorf("Transport failed, restarting in %s", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Shutdown stops all clients and waits for Run to return.
func (d *Daemon) Shutdown() {
	logrus.Info("Stopping daemon.")

	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Release makes every client give up its lease.
func (d *Daemon) Release() {
	for _, c := range d.dhcpv4Client {
		c.Release()
	}
}
