package configuration

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/cimnine/netbox-dhclient/cache"
	"github.com/cimnine/netbox-dhclient/dhcp/config"
	"github.com/cimnine/netbox-dhclient/netbox"
)

type Configuration struct {
	Netbox netbox.NetboxConfig
	Cache  cache.CacheConfig
	Daemon config.DaemonConfig
	DHCP   config.DHCPConfig `yaml:"dhcp"`
}

func ReadConfig(filename string) (conf Configuration, err error) {
	rawFile, err := ioutil.ReadFile(filename)
	if err != nil {
		return conf, errors.Wrap(err, "can't read config file")
	}

	return ParseConfig(rawFile)
}

// ParseConfig parses a YAML configuration. Unknown keys are errors.
func ParseConfig(raw []byte) (conf Configuration, err error) {
	err = yaml.UnmarshalStrict(raw, &conf)
	if err != nil {
		return conf, errors.Wrap(err, "can't parse config file")
	}

	return conf, conf.Validate()
}

func (c Configuration) Validate() error {
	var err error
	err = multierr.Append(err, c.Daemon.Validate())
	err = multierr.Append(err, c.DHCP.Validate())
	for name, i := range c.Daemon.Interfaces {
		if i.NetBox && !c.Netbox.Enabled() {
			err = multierr.Append(err, errors.Errorf("interface '%s' records leases in NetBox, but netbox.api.url is empty", name))
		}
	}
	return err
}
