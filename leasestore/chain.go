package leasestore

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

// Chain writes to all of its stores and reads from the first one that holds
// an unexpired lease.
type Chain struct {
	Stores []Store
	Now    func() time.Time
}

func (c Chain) Load(iface string) (*v4.Lease, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	var errs error
	for _, s := range c.Stores {
		l, err := s.Load(iface)
		if err != nil {
			logrus.WithField("iface", iface).WithError(err).Debug("Can't load lease, trying next store")
			errs = multierr.Append(errs, err)
			continue
		}
		if l != nil && !l.Expired(now()) {
			return l, nil
		}
	}
	return nil, errs
}

func (c Chain) Save(iface string, l v4.Lease) error {
	var errs error
	for _, s := range c.Stores {
		errs = multierr.Append(errs, s.Save(iface, l))
	}
	return errs
}

func (c Chain) Delete(iface string) error {
	var errs error
	for _, s := range c.Stores {
		errs = multierr.Append(errs, s.Delete(iface))
	}
	return errs
}
