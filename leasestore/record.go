// Package leasestore persists the last lease of an interface so a restarted
// client can ask for the same address again.
package leasestore

import (
	"net"
	"time"

	"github.com/pkg/errors"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
	"github.com/cimnine/netbox-dhclient/util"
)

// Store is implemented by File, Redis and Chain.
type Store interface {
	// Load returns nil and no error when nothing is stored for iface.
	Load(iface string) (*v4.Lease, error)
	Save(iface string, l v4.Lease) error
	Delete(iface string) error
}

var ErrInvalidRecord = errors.New("invalid lease record")

// record is the stored form of a v4.Lease.
type record struct {
	Address    string   `yaml:"address" json:"address"`
	SubnetMask string   `yaml:"subnet_mask,omitempty" json:"subnet_mask,omitempty"`
	Routers    []string `yaml:"routers,omitempty" json:"routers,omitempty"`
	DNS        []string `yaml:"dns_servers,omitempty" json:"dns_servers,omitempty"`
	NTPServers []string `yaml:"ntp_servers,omitempty" json:"ntp_servers,omitempty"`
	HostName   string   `yaml:"host_name,omitempty" json:"host_name,omitempty"`
	DomainName string   `yaml:"domain_name,omitempty" json:"domain_name,omitempty"`
	ServerID   string   `yaml:"server_id,omitempty" json:"server_id,omitempty"`
	Acquired   string   `yaml:"acquired" json:"acquired"`
	Lease      string   `yaml:"lease_duration" json:"lease_duration"`
	T1         string   `yaml:"t1_duration" json:"t1_duration"`
	T2         string   `yaml:"t2_duration" json:"t2_duration"`
}

func newRecord(l v4.Lease) record {
	r := record{
		Address:    l.Address.String(),
		Routers:    ipStrings(l.Routers),
		DNS:        ipStrings(l.DNS),
		NTPServers: ipStrings(l.NTPServers),
		HostName:   l.HostName,
		DomainName: l.DomainName,
		Acquired:   l.Acquired.Format(time.RFC3339Nano),
		Lease:      l.Timeouts.Lease.String(),
		T1:         l.Timeouts.T1RenewalTime.String(),
		T2:         l.Timeouts.T2RebindingTime.String(),
	}
	if l.SubnetMask != nil {
		r.SubnetMask = net.IP(l.SubnetMask).String()
	}
	if l.ServerID != nil {
		r.ServerID = l.ServerID.String()
	}
	return r
}

func (r record) lease() (v4.Lease, error) {
	l := v4.Lease{
		Address:    net.ParseIP(r.Address).To4(),
		Routers:    parseIPs(r.Routers),
		DNS:        parseIPs(r.DNS),
		NTPServers: parseIPs(r.NTPServers),
		HostName:   r.HostName,
		DomainName: r.DomainName,
		ServerID:   net.ParseIP(r.ServerID).To4(),
	}
	if l.Address == nil {
		return l, errors.Wrapf(ErrInvalidRecord, "address '%s'", r.Address)
	}
	if mask := net.ParseIP(r.SubnetMask).To4(); mask != nil {
		l.SubnetMask = net.IPMask(mask)
	}

	var err error
	if l.Acquired, err = time.Parse(time.RFC3339Nano, r.Acquired); err != nil {
		return l, errors.Wrapf(ErrInvalidRecord, "acquired '%s'", r.Acquired)
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{r.Lease, &l.Timeouts.Lease},
		{r.T1, &l.Timeouts.T1RenewalTime},
		{r.T2, &l.Timeouts.T2RebindingTime},
	} {
		if *d.dst, err = time.ParseDuration(d.raw); err != nil {
			return l, errors.Wrapf(ErrInvalidRecord, "duration '%s'", d.raw)
		}
	}
	return l, nil
}

func ipStrings(ips []net.IP) []string {
	if len(ips) == 0 {
		return nil
	}
	strs := make([]string, 0, len(ips))
	for _, ip := range ips {
		strs = append(strs, ip.String())
	}
	return strs
}

func parseIPs(strs []string) []net.IP {
	if len(strs) == 0 {
		return nil
	}
	return util.ParseIP4s(strs)
}
