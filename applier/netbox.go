package applier

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
	"github.com/cimnine/netbox-dhclient/netbox"
	"github.com/cimnine/netbox-dhclient/netbox/models"
)

// NetBox records leases as IP addresses in NetBox IPAM. The address is
// assigned to the NetBox interface carrying MAC, if there is exactly one.
type NetBox struct {
	Client *netbox.Client
	Iface  string
	MAC    net.HardwareAddr
	Log    *logrus.Entry
}

func (n NetBox) Apply(_ context.Context, l v4.Lease) error {
	ip := models.WritableIP{
		RawAddress:  l.Prefix().String(),
		Status:      models.IPStatusDHCP,
		DNSName:     l.HostName,
		Description: fmt.Sprintf("DHCP lease on %s from %s", n.Iface, l.ServerID),
	}
	if id, ok := n.interfaceID(); ok {
		ip.AssignedObjectType = models.AssignedObjectInterface
		ip.AssignedObjectID = id
	}

	existing, err := n.find(l)
	if err != nil {
		return err
	}
	if existing == nil {
		created, err := n.Client.CreateIPAddress(ip)
		if err != nil {
			return errors.Wrapf(err, "can't create IP address '%s'", ip.RawAddress)
		}
		n.log().Debugf("Created IP address %d for '%s'", created.ID, ip.RawAddress)
		return nil
	}

	if _, err := n.Client.UpdateIPAddress(existing.ID, ip); err != nil {
		return errors.Wrapf(err, "can't update IP address %d", existing.ID)
	}
	n.log().Debugf("Updated IP address %d for '%s'", existing.ID, ip.RawAddress)
	return nil
}

func (n NetBox) Revoke(_ context.Context, l v4.Lease) error {
	existing, err := n.find(l)
	if err != nil || existing == nil {
		return err
	}

	if _, err := n.Client.UpdateIPAddress(existing.ID, models.WritableIP{Status: models.IPStatusDeprecated}); err != nil {
		return errors.Wrapf(err, "can't deprecate IP address %d", existing.ID)
	}
	n.log().Debugf("Deprecated IP address %d", existing.ID)
	return nil
}

func (n NetBox) find(l v4.Lease) (*models.IP, error) {
	ips, err := n.Client.FindIPAddresses(l.Address.String())
	if err != nil {
		return nil, errors.Wrapf(err, "can't look up '%s'", l.Address)
	}
	if len(ips) == 0 {
		return nil, nil
	}
	if len(ips) > 1 {
		n.log().Warnf("More than one IP address '%s' found, using the first.", l.Address)
	}
	return &ips[0], nil
}

func (n NetBox) interfaceID() (uint64, bool) {
	if len(n.MAC) == 0 {
		return 0, false
	}

	ifaces, err := n.Client.FindInterfacesByMAC(n.MAC.String())
	if err != nil {
		n.log().WithError(err).Warnf("Can't find interface for MAC '%s'", n.MAC)
		return 0, false
	}
	if len(ifaces) != 1 {
		n.log().Debugf("Expected exactly one interface with the MAC '%s', but found %d.", n.MAC, len(ifaces))
		return 0, false
	}
	return ifaces[0].ID, true
}

func (n NetBox) log() *logrus.Entry {
	if n.Log != nil {
		return n.Log
	}
	return logrus.WithField("iface", n.Iface)
}
