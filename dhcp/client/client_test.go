package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimnine/netbox-dhclient/dhcp/dhcptest"
	"github.com/cimnine/netbox-dhclient/dhcp/transport"
	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

type recordingApplier struct {
	mu       sync.Mutex
	applied  []v4.Lease
	revoked  []v4.Lease
	onApply  func(n int)
	applyErr error
}

func (r *recordingApplier) Apply(_ context.Context, l v4.Lease) error {
	r.mu.Lock()
	r.applied = append(r.applied, l)
	n := len(r.applied)
	r.mu.Unlock()

	if r.onApply != nil {
		r.onApply(n)
	}
	return r.applyErr
}

func (r *recordingApplier) Revoke(_ context.Context, l v4.Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, l)
	return nil
}

type memoryStore struct {
	mu     sync.Mutex
	leases map[string]v4.Lease
}

func (s *memoryStore) Load(iface string) (*v4.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[iface]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *memoryStore) Save(iface string, l v4.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases == nil {
		s.leases = make(map[string]v4.Lease)
	}
	s.leases[iface] = l
	return nil
}

func (s *memoryStore) Delete(iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, iface)
	return nil
}

type fixture struct {
	clock   *dhcptest.Clock
	server  *dhcptest.Server
	conn    *dhcptest.Conn
	applier *recordingApplier
}

func newFixture() *fixture {
	clock := dhcptest.NewClock()
	server := dhcptest.NewServer(testServer, testAddr, net.IPv4(10, 0, 0, 6).To4())
	server.Routers = []net.IP{testServer}
	server.T1 = 1800 * time.Second
	server.T2 = 3150 * time.Second

	return &fixture{
		clock:   clock,
		server:  server,
		conn:    dhcptest.NewConn(clock, server.Handle),
		applier: &recordingApplier{},
	}
}

func (f *fixture) client(opts ...Option) *Client {
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	return New("eth0", f.conn.Opener(), f.applier, Config{
		HardwareAddr: testMAC,
		ClientID:     v4.HardwareClientID(testMAC),
		Rand:         func() float64 { return 0.5 },
	}, opts...)
}

func runWithTimeout(t *testing.T, ctx context.Context, c *Client) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	select {
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func decodeSent(t *testing.T, d dhcptest.Datagram) *v4.Message {
	t.Helper()
	msg, err := v4.Decode(d.Payload)
	require.NoError(t, err)
	return msg
}

func TestRunAcquiresLease(t *testing.T) {
	f := newFixture()
	store := &memoryStore{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.applier.onApply = func(int) { cancel() }

	err := runWithTimeout(t, ctx, f.client(WithLeaseStore(store)))
	require.NoError(t, err)

	require.Len(t, f.applier.applied, 1)
	l := f.applier.applied[0]
	assert.Equal(t, testAddr, l.Address)
	assert.Equal(t, testServer, l.ServerID)
	assert.Equal(t, []net.IP{testServer}, l.Routers)
	assert.Equal(t, "10.0.0.5/24", l.Prefix().String())
	assert.Equal(t, testAddr, f.server.Lease(testMAC))

	stored, err := store.Load("eth0")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, testAddr, stored.Address)

	sent := f.conn.Sent()
	require.Len(t, sent, 2)
	assert.Nil(t, sent[0].To)
	assert.Equal(t, v4.MessageTypeDiscover, decodeSent(t, sent[0]).MessageType())
	assert.Nil(t, sent[1].To)
	assert.Equal(t, v4.MessageTypeRequest, decodeSent(t, sent[1]).MessageType())

	assert.True(t, f.conn.Closed())
	assert.Empty(t, f.applier.revoked)
}

func TestRunRenewsAtT1(t *testing.T) {
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.applier.onApply = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	require.NoError(t, runWithTimeout(t, ctx, f.client()))
	require.Len(t, f.applier.applied, 2)

	first, second := f.applier.applied[0], f.applier.applied[1]
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.RenewAt(), second.Acquired)

	sent := f.conn.Sent()
	require.Len(t, sent, 3)
	renew := sent[2]
	assert.Equal(t, testServer, renew.To)
	assert.Equal(t, first.RenewAt(), renew.At)
	assert.Equal(t, testAddr, decodeSent(t, renew).ClientIP)
}

func TestRunRelease(t *testing.T) {
	f := newFixture()
	c := f.client()
	f.applier.onApply = func(int) { c.Release() }

	require.NoError(t, runWithTimeout(t, context.Background(), c))

	assert.Equal(t, []net.IP{testAddr}, f.server.Released())
	require.Len(t, f.applier.revoked, 1)
	assert.Equal(t, testAddr, f.applier.revoked[0].Address)

	sent := f.conn.Sent()
	last := decodeSent(t, sent[len(sent)-1])
	assert.Equal(t, v4.MessageTypeRelease, last.MessageType())
	assert.Equal(t, testServer, sent[len(sent)-1].To)
	assert.True(t, f.conn.Closed())
}

func TestRunReleaseOnShutdown(t *testing.T) {
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.applier.onApply = func(int) { cancel() }

	require.NoError(t, runWithTimeout(t, ctx, f.client(WithReleaseOnShutdown(true))))
	assert.Equal(t, []net.IP{testAddr}, f.server.Released())
	assert.Len(t, f.applier.revoked, 1)
}

func TestRunReturnsTransportErrors(t *testing.T) {
	f := newFixture()
	f.conn.SendErr = errors.New("network is down")

	err := runWithTimeout(t, context.Background(), f.client())
	var terr *transport.Error
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, "send", terr.Op)
	assert.True(t, f.conn.Closed())
}

func TestRunIgnoresGarbage(t *testing.T) {
	f := newFixture()
	f.conn.Deliver([]byte("not a dhcp packet"))
	f.conn.Deliver(make([]byte, 300))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.applier.onApply = func(int) { cancel() }

	require.NoError(t, runWithTimeout(t, ctx, f.client()))
	assert.Len(t, f.applier.applied, 1)
}

func TestRunKeepsGoingWhenApplyFails(t *testing.T) {
	f := newFixture()
	f.applier.applyErr = errors.New("permission denied")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.applier.onApply = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	require.NoError(t, runWithTimeout(t, ctx, f.client()))
	assert.Len(t, f.applier.applied, 2)
}

func TestRunRequestsStoredAddress(t *testing.T) {
	f := newFixture()
	stored := v4.Lease{Address: net.IPv4(10, 0, 0, 6).To4(), Acquired: f.clock.Now()}
	stored.Timeouts.Lease = time.Hour
	store := &memoryStore{}
	require.NoError(t, store.Save("eth0", stored))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.applier.onApply = func(int) { cancel() }

	require.NoError(t, runWithTimeout(t, ctx, f.client(WithLeaseStore(store))))

	discover := decodeSent(t, f.conn.Sent()[0])
	assert.Equal(t, stored.Address, discover.RequestedIP())
}

func TestRunNakLoop(t *testing.T) {
	f := newFixture()
	f.server.Nak = true
	f.conn.MaxReceives = 10

	err := runWithTimeout(t, context.Background(), f.client())
	assert.True(t, errors.Is(err, dhcptest.ErrExhausted), "got %v", err)
	assert.Empty(t, f.applier.applied)
	assert.Greater(t, len(f.server.Requests()), 1)
}

func TestRunOpenFails(t *testing.T) {
	open := func() (transport.Transport, error) {
		return nil, &transport.Error{Op: "listen", Err: errors.New("address in use")}
	}
	c := New("eth0", open, &recordingApplier{}, Config{HardwareAddr: testMAC})

	err := c.Run(context.Background())
	var terr *transport.Error
	assert.True(t, errors.As(err, &terr), "got %v", err)
}
