package v4

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/cimnine/netbox-dhclient/dhcp/retry"
)

var (
	ErrNoLeaseTime = errors.New("no lease time option")
	ErrNoAddress   = errors.New("no usable address")
)

// Lease is the configuration granted by a DHCPACK. T1 <= T2 <= Duration.
type Lease struct {
	Address    net.IP
	SubnetMask net.IPMask
	Routers    []net.IP
	DNS        []net.IP
	NTPServers []net.IP
	HostName   string
	DomainName string
	ServerID   net.IP
	Acquired   time.Time
	Timeouts   struct {
		Lease           time.Duration
		T1RenewalTime   time.Duration
		T2RebindingTime time.Duration
	}
}

// NewLease derives the lease granted by ack, acquired at now.
func NewLease(ack *Message, now time.Time) (Lease, error) {
	l := Lease{
		Address:    ack.YourIP.To4(),
		SubnetMask: ack.SubnetMask(),
		Routers:    ack.Routers(),
		DNS:        ack.DNS(),
		NTPServers: ack.NTPServers(),
		HostName:   ack.HostName(),
		DomainName: ack.DomainName(),
		ServerID:   ack.ServerIdentifier(),
		Acquired:   now,
	}

	if !usableAddress(l.Address) {
		return l, errors.Wrapf(ErrNoAddress, "yiaddr %s", ack.YourIP)
	}

	d, ok := ack.LeaseTime()
	if !ok {
		return l, ErrNoLeaseTime
	}
	l.Timeouts.Lease = d

	t1, _ := ack.RenewalTime()
	t2, _ := ack.RebindingTime()
	l.Timeouts.T1RenewalTime, l.Timeouts.T2RebindingTime = normalizeTimers(d, t1, t2)

	return l, nil
}

// DefaultT1 and DefaultT2 are the RFC 2131 section 4.4.5 defaults.
func DefaultT1(lease time.Duration) time.Duration {
	return lease / 2
}

func DefaultT2(lease time.Duration) time.Duration {
	return lease / 8 * 7
}

func normalizeTimers(lease, t1, t2 time.Duration) (time.Duration, time.Duration) {
	if t2 <= 0 || t2 > lease {
		t2 = DefaultT2(lease)
	}
	if t1 <= 0 || t1 > t2 {
		t1 = DefaultT1(lease)
	}
	if t1 > t2 {
		t1 = t2
	}
	return t1, t2
}

func usableAddress(ip net.IP) bool {
	return ip != nil && !ip.Equal(net.IPv4zero) && !ip.Equal(net.IPv4bcast)
}

// Schedule returns the absolute wake times of the lease.
func (l Lease) Schedule() retry.LeaseTimes {
	return retry.ScheduleLease(l.Acquired, l.Timeouts.Lease, l.Timeouts.T1RenewalTime, l.Timeouts.T2RebindingTime)
}

// RenewAt is the time the client moves to RENEWING.
func (l Lease) RenewAt() time.Time {
	return l.Schedule().Renew
}

// RebindAt is the time the client moves to REBINDING.
func (l Lease) RebindAt() time.Time {
	return l.Schedule().Rebind
}

// ExpireAt is the time the lease is lost.
func (l Lease) ExpireAt() time.Time {
	return l.Schedule().Expire
}

// Expired reports whether the lease has run out at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpireAt())
}

// Prefix returns the address with its subnet, falling back to a /32.
func (l Lease) Prefix() *net.IPNet {
	mask := l.SubnetMask
	if mask == nil {
		mask = net.CIDRMask(32, 32)
	}
	return &net.IPNet{IP: l.Address, Mask: mask}
}

// ReplaceLoopbackDNS swaps DNS servers in 127.0.0.0/8 for replacement.
func (l *Lease) ReplaceLoopbackDNS(replacement net.IP) {
	if replacement == nil {
		return
	}
	for i, ip := range l.DNS {
		if ip.IsLoopback() {
			l.DNS[i] = replacement
		}
	}
}
