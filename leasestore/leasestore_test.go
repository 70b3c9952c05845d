package leasestore

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

var acquired = time.Date(2018, 11, 23, 16, 26, 48, 0, time.UTC)

func sampleLease() v4.Lease {
	l := v4.Lease{
		Address:    net.IPv4(10, 0, 0, 5).To4(),
		SubnetMask: net.CIDRMask(24, 32),
		Routers:    []net.IP{net.IPv4(10, 0, 0, 1).To4()},
		DNS:        []net.IP{net.IPv4(10, 0, 0, 2).To4(), net.IPv4(10, 0, 0, 3).To4()},
		HostName:   "node1",
		DomainName: "example.org",
		ServerID:   net.IPv4(10, 0, 0, 1).To4(),
		Acquired:   acquired,
	}
	l.Timeouts.Lease = time.Hour
	l.Timeouts.T1RenewalTime = 30 * time.Minute
	l.Timeouts.T2RebindingTime = 3150 * time.Second
	return l
}

func TestRecordRoundTrip(t *testing.T) {
	l := sampleLease()
	got, err := newRecord(l).lease()
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestRecordInvalid(t *testing.T) {
	for name, r := range map[string]record{
		"address":  {Address: "nope"},
		"acquired": {Address: "10.0.0.5", Acquired: "yesterday"},
		"duration": {Address: "10.0.0.5", Acquired: acquired.Format(time.RFC3339Nano), Lease: "long"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.lease()
			assert.True(t, errors.Is(err, ErrInvalidRecord), "got %v", err)
		})
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	f := File{Dir: filepath.Join(dir, "leases")}

	l, err := f.Load("eth0")
	require.NoError(t, err)
	assert.Nil(t, l)

	require.NoError(t, f.Save("eth0", sampleLease()))
	l, err = f.Load("eth0")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, sampleLease(), *l)

	raw, err := ioutil.ReadFile(filepath.Join(dir, "leases", "eth0.lease.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "address: 10.0.0.5")

	// no temporary files are left behind
	entries, err := ioutil.ReadDir(f.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, f.Delete("eth0"))
	require.NoError(t, f.Delete("eth0"))
	l, err = f.Load("eth0")
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestFileRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "eth0.lease.yaml"), []byte("address: 10.0.0.5\ncolor: blue\n"), 0o644))

	_, err := File{Dir: dir}.Load("eth0")
	assert.Error(t, err)
}

type brokenStore struct{}

func (brokenStore) Load(string) (*v4.Lease, error) { return nil, errors.New("broken") }
func (brokenStore) Save(string, v4.Lease) error    { return errors.New("broken") }
func (brokenStore) Delete(string) error            { return errors.New("broken") }

func TestChain(t *testing.T) {
	first, second := File{Dir: t.TempDir()}, File{Dir: t.TempDir()}
	c := Chain{
		Stores: []Store{brokenStore{}, first, second},
		Now:    func() time.Time { return acquired.Add(time.Minute) },
	}

	err := c.Save("eth0", sampleLease())
	assert.EqualError(t, err, "broken")

	l, err := second.Load("eth0")
	require.NoError(t, err)
	require.NotNil(t, l)

	l, err = c.Load("eth0")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, sampleLease().Address, l.Address)

	expired := sampleLease()
	expired.Acquired = acquired.Add(-2 * time.Hour)
	require.NoError(t, first.Save("eth0", expired))
	l, err = c.Load("eth0")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, acquired, l.Acquired)

	assert.Error(t, c.Delete("eth0"))
	l, err = c.Load("eth0")
	assert.Nil(t, l)
	assert.EqualError(t, err, "broken")
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	r := Redis{Client: client, Now: func() time.Time { return acquired.Add(time.Minute) }}
	iface := "test-" + t.Name()
	defer r.Delete(iface)

	l, err := r.Load(iface)
	require.NoError(t, err)
	assert.Nil(t, l)

	require.NoError(t, r.Save(iface, sampleLease()))
	l, err = r.Load(iface)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, sampleLease(), *l)

	ttl, err := client.TTL(keyIface(4, iface)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 58*time.Minute && ttl <= 59*time.Minute, "ttl %s", ttl)

	require.NoError(t, r.Delete(iface))
	l, err = r.Load(iface)
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestKeyIface(t *testing.T) {
	assert.Equal(t, "v4;eth0", keyIface(4, "eth0"))
}
