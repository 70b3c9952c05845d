// Package applier puts leases into effect on the host and elsewhere.
package applier

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

// Applier is implemented by every type in this package.
type Applier interface {
	Apply(ctx context.Context, l v4.Lease) error
	Revoke(ctx context.Context, l v4.Lease) error
}

// Multi applies leases with every Applier in order and revokes them in
// reverse order. All appliers run even if some fail.
type Multi []Applier

func (m Multi) Apply(ctx context.Context, l v4.Lease) error {
	var err error
	for _, a := range m {
		err = multierr.Append(err, a.Apply(ctx, l))
	}
	return err
}

func (m Multi) Revoke(ctx context.Context, l v4.Lease) error {
	var err error
	for i := len(m) - 1; i >= 0; i-- {
		err = multierr.Append(err, m[i].Revoke(ctx, l))
	}
	return err
}

// Log only logs leases.
type Log struct {
	Log *logrus.Entry
}

func (a Log) Apply(_ context.Context, l v4.Lease) error {
	a.Log.WithFields(logrus.Fields{
		"address": l.Prefix(),
		"routers": l.Routers,
		"dns":     l.DNS,
		"server":  l.ServerID,
		"expires": l.ExpireAt().Format("2006-01-02 15:04:05"),
	}).Info("New lease")
	return nil
}

func (a Log) Revoke(_ context.Context, l v4.Lease) error {
	a.Log.WithField("address", l.Prefix()).Info("Lease revoked")
	return nil
}
