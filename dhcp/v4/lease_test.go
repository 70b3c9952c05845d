package v4

import (
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLease(t *testing.T) {
	now := time.Date(2018, 11, 23, 16, 26, 48, 0, time.UTC)

	l, err := NewLease(sampleAck(), now)
	require.NoError(t, err)

	assert.Equal(t, ip4(10, 0, 0, 5), l.Address)
	assert.Equal(t, net.IPv4Mask(255, 255, 255, 0), l.SubnetMask)
	assert.Equal(t, []net.IP{ip4(10, 0, 0, 1)}, l.Routers)
	assert.Equal(t, []net.IP{ip4(10, 0, 0, 2), ip4(10, 0, 0, 3)}, l.DNS)
	assert.Equal(t, ip4(10, 0, 0, 1), l.ServerID)
	assert.Equal(t, time.Hour, l.Timeouts.Lease)
	assert.Equal(t, 1800*time.Second, l.Timeouts.T1RenewalTime)
	assert.Equal(t, 3150*time.Second, l.Timeouts.T2RebindingTime)
	assert.Equal(t, now.Add(30*time.Minute), l.RenewAt())
	assert.Equal(t, now.Add(3150*time.Second), l.RebindAt())
	assert.Equal(t, now.Add(time.Hour), l.ExpireAt())
	assert.False(t, l.Expired(now.Add(59*time.Minute)))
	assert.True(t, l.Expired(now.Add(time.Hour)))
	assert.Equal(t, "10.0.0.5/24", l.Prefix().String())
}

func TestNewLeaseRequiresLeaseTime(t *testing.T) {
	ack := sampleAck()
	ack.Options = Options{OptMessageType(MessageTypeAck), OptServerIdentifier(ip4(10, 0, 0, 1))}

	_, err := NewLease(ack, time.Now())
	assert.True(t, errors.Is(err, ErrNoLeaseTime), "got %v", err)
}

func TestNewLeaseRequiresAddress(t *testing.T) {
	ack := sampleAck()
	ack.YourIP = ip4(0, 0, 0, 0)

	_, err := NewLease(ack, time.Now())
	assert.True(t, errors.Is(err, ErrNoAddress), "got %v", err)
}

func TestNewLeaseTimers(t *testing.T) {
	for name, tc := range map[string]struct {
		t1, t2         time.Duration
		wantT1, wantT2 time.Duration
	}{
		"defaults":          {0, 0, 1800 * time.Second, 3150 * time.Second},
		"only t1":           {600 * time.Second, 0, 600 * time.Second, 3150 * time.Second},
		"t2 beyond lease":   {600 * time.Second, 2 * time.Hour, 600 * time.Second, 3150 * time.Second},
		"t1 beyond t2":      {3000 * time.Second, 2000 * time.Second, 1800 * time.Second, 2000 * time.Second},
		"t1 beyond tiny t2": {3000 * time.Second, 1000 * time.Second, 1000 * time.Second, 1000 * time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			ack := sampleAck()
			ack.Options = Options{OptMessageType(MessageTypeAck), OptLeaseTime(time.Hour)}
			if tc.t1 > 0 {
				ack.Options = append(ack.Options, OptRenewalTime(tc.t1))
			}
			if tc.t2 > 0 {
				ack.Options = append(ack.Options, OptRebindingTime(tc.t2))
			}

			l, err := NewLease(ack, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tc.wantT1, l.Timeouts.T1RenewalTime)
			assert.Equal(t, tc.wantT2, l.Timeouts.T2RebindingTime)
			assert.LessOrEqual(t, int64(l.Timeouts.T1RenewalTime), int64(l.Timeouts.T2RebindingTime))
			assert.LessOrEqual(t, int64(l.Timeouts.T2RebindingTime), int64(l.Timeouts.Lease))
		})
	}
}

func TestReplaceLoopbackDNS(t *testing.T) {
	l := Lease{DNS: []net.IP{ip4(127, 0, 1, 1), ip4(10, 0, 0, 2)}}

	l.ReplaceLoopbackDNS(nil)
	assert.Equal(t, ip4(127, 0, 1, 1), l.DNS[0])

	l.ReplaceLoopbackDNS(ip4(208, 67, 222, 222))
	assert.Equal(t, []net.IP{ip4(208, 67, 222, 222), ip4(10, 0, 0, 2)}, l.DNS)
}
