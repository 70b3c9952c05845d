package applier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
	"github.com/cimnine/netbox-dhclient/util"
)

// DefaultNetcfgRoot is where the netcfg scheme is mounted.
const DefaultNetcfgRoot = "/scheme/netcfg"

// Netcfg configures an interface through the files of a netcfg tree:
//
//	ifaces/<iface>/addr/set   a.b.c.d/len
//	route/add                 default via a.b.c.d
//	resolv/nameserver         a.b.c.d
//
// Revoking writes to ifaces/<iface>/addr/rm and route/rm.
type Netcfg struct {
	Root  string
	Iface string
}

func (n Netcfg) Apply(_ context.Context, l v4.Lease) error {
	if err := n.write(n.ifacePath("addr/set"), address(l)); err != nil {
		return err
	}

	var err error
	if len(l.Routers) > 0 {
		err = multierr.Append(err, n.write("route/add", defaultRoute(l)))
	}
	if len(l.DNS) > 0 {
		err = multierr.Append(err, n.write("resolv/nameserver", l.DNS[0].String()))
	}
	return err
}

func (n Netcfg) Revoke(_ context.Context, l v4.Lease) error {
	var err error
	if len(l.Routers) > 0 {
		err = multierr.Append(err, n.write("route/rm", defaultRoute(l)))
	}
	return multierr.Append(err, n.write(n.ifacePath("addr/rm"), address(l)))
}

func (n Netcfg) ifacePath(cfg string) string {
	return filepath.Join("ifaces", n.Iface, cfg)
}

func (n Netcfg) write(path, value string) error {
	root := n.Root
	if root == "" {
		root = DefaultNetcfgRoot
	}
	path = filepath.Join(root, path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "can't open %s", path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "can't open %s", path)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return errors.Wrapf(err, "can't write %s to %s", value, path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "can't commit %s to %s", value, path)
	}
	return f.Close()
}

func address(l v4.Lease) string {
	return fmt.Sprintf("%s/%d\n", l.Address, util.PrefixLength(l.Prefix().Mask))
}

func defaultRoute(l v4.Lease) string {
	return fmt.Sprintf("default via %s", l.Routers[0])
}
