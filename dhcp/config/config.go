package config

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cimnine/netbox-dhclient/dhcp/retry"
	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

const (
	TransportUDP = "udp"
	TransportRaw = "raw"
)

type DHCPConfig struct {
	// LeaseDuration is asked for in DISCOVER and REQUEST; empty leaves it to the server.
	LeaseDuration string `yaml:"lease_duration"`
	Broadcast     *bool  `yaml:"broadcast"`
	LoopbackDNS   string `yaml:"loopback_dns"`
	Retry         struct {
		Base        string  `yaml:"base"`
		Multiplier  float64 `yaml:"multiplier"`
		MaxTimeout  string  `yaml:"max_timeout"`
		MaxAttempts *int    `yaml:"max_attempts"`
		Jitter      string  `yaml:"jitter"`
	} `yaml:"retry"`
}

// Policy returns the retry policy, starting from retry.DefaultPolicy for
// everything left empty.
func (d DHCPConfig) Policy() (retry.Policy, error) {
	p := retry.DefaultPolicy()

	var err error
	err = multierr.Append(err, parseDuration("retry.base", d.Retry.Base, &p.Base))
	err = multierr.Append(err, parseDuration("retry.max_timeout", d.Retry.MaxTimeout, &p.MaxTimeout))
	err = multierr.Append(err, parseDuration("retry.jitter", d.Retry.Jitter, &p.Jitter))
	if d.Retry.Multiplier != 0 {
		p.Multiplier = d.Retry.Multiplier
	}
	if d.Retry.MaxAttempts != nil {
		p.MaxAttempts = *d.Retry.MaxAttempts
	}
	if err != nil {
		return p, err
	}

	return p, p.Validate()
}

func (d DHCPConfig) RequestedLeaseTime() (time.Duration, error) {
	var lease time.Duration
	err := parseDuration("lease_duration", d.LeaseDuration, &lease)
	return lease, err
}

// BroadcastFlag defaults to true.
func (d DHCPConfig) BroadcastFlag() bool {
	return d.Broadcast == nil || *d.Broadcast
}

func (d DHCPConfig) LoopbackDNSAddress() (net.IP, error) {
	if d.LoopbackDNS == "" {
		return nil, nil
	}
	ip := net.ParseIP(d.LoopbackDNS).To4()
	if ip == nil {
		return nil, errors.Errorf("loopback_dns '%s' is not an IPv4 address", d.LoopbackDNS)
	}
	return ip, nil
}

func (d DHCPConfig) Validate() error {
	_, err := d.Policy()
	_, leaseErr := d.RequestedLeaseTime()
	_, dnsErr := d.LoopbackDNSAddress()
	return multierr.Combine(err, leaseErr, dnsErr)
}

type DaemonConfig struct {
	Log struct {
		Level string
		Path  string
	}
	LeaseDir   string                     `yaml:"lease_dir"`
	NetcfgRoot string                     `yaml:"netcfg_root"`
	Interfaces map[string]InterfaceConfig `yaml:"interfaces"`
}

type InterfaceConfig struct {
	// Transport is "udp" (default) or "raw".
	Transport         string `yaml:"transport"`
	Hostname          string `yaml:"hostname"`
	ClientUUID        string `yaml:"client_uuid"`
	ReleaseOnShutdown bool   `yaml:"release_on_shutdown"`
	Script            string `yaml:"script"`
	Netcfg            bool   `yaml:"netcfg"`
	NetBox            bool   `yaml:"netbox"`
}

func (i InterfaceConfig) TransportKind() string {
	if i.Transport == "" {
		return TransportUDP
	}
	return i.Transport
}

// ClientID returns the client identifier (option 61) of iface: a DUID-UUID
// when client_uuid is set, the hardware address otherwise.
func (i InterfaceConfig) ClientID(iface *net.Interface) ([]byte, error) {
	return v4.ClientID(i.ClientUUID, iface)
}

func (d DaemonConfig) Validate() error {
	var err error
	if len(d.Interfaces) == 0 {
		err = multierr.Append(err, errors.New("daemon.interfaces is empty"))
	}
	for name, i := range d.Interfaces {
		switch i.TransportKind() {
		case TransportUDP, TransportRaw:
		default:
			err = multierr.Append(err, errors.Errorf("interface '%s': unknown transport '%s'", name, i.Transport))
		}
		if i.ClientUUID != "" {
			if _, uerr := v4.UUIDDUID(i.ClientUUID); uerr != nil {
				err = multierr.Append(err, errors.Wrapf(uerr, "interface '%s'", name))
			}
		}
	}
	return err
}

func parseDuration(field, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "%s", field)
	}
	*dst = d
	return nil
}
