package leasestore

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

// File keeps one YAML file per interface in Dir.
type File struct {
	Dir string
}

func (f File) path(iface string) string {
	return filepath.Join(f.Dir, iface+".lease.yaml")
}

func (f File) Load(iface string) (*v4.Lease, error) {
	raw, err := ioutil.ReadFile(f.path(iface))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "can't read lease of '%s'", iface)
	}

	var r record
	if err := yaml.UnmarshalStrict(raw, &r); err != nil {
		return nil, errors.Wrapf(err, "can't parse lease of '%s'", iface)
	}
	l, err := r.lease()
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Save replaces the stored lease atomically.
func (f File) Save(iface string, l v4.Lease) error {
	raw, err := yaml.Marshal(newRecord(l))
	if err != nil {
		return errors.Wrapf(err, "can't convert lease of '%s'", iface)
	}

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "can't create '%s'", f.Dir)
	}
	tmp, err := ioutil.TempFile(f.Dir, "."+iface+".*")
	if err != nil {
		return errors.Wrap(err, "can't create temporary lease file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "can't write lease of '%s'", iface)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "can't write lease of '%s'", iface)
	}
	if err := os.Rename(tmp.Name(), f.path(iface)); err != nil {
		return errors.Wrapf(err, "can't store lease of '%s'", iface)
	}

	logrus.WithField("iface", iface).Debugf("Wrote lease to '%s'", f.path(iface))
	return nil
}

func (f File) Delete(iface string) error {
	err := os.Remove(f.path(iface))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "can't delete lease of '%s'", iface)
	}
	return nil
}
