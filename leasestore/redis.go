package leasestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

// REDIS STRUCTURE
// -------------------------------------
// key:                value:
// -------------------------------------
// v4;{iface}          {json}
// -------------------------------------
//
// Keys expire when the lease does.

type Redis struct {
	Client *redis.Client
	// Now defaults to time.Now.
	Now func() time.Time
}

func (r Redis) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Redis) Load(iface string) (*v4.Lease, error) {
	key := keyIface(4, iface)

	raw, err := r.Client.Get(key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to receive '%s'", key)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrapf(err, "unable to reconstruct lease from '%s'", key)
	}
	l, err := rec.lease()
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r Redis) Save(iface string, l v4.Lease) error {
	key := keyIface(4, iface)

	ttl := l.ExpireAt().Sub(r.now())
	if ttl <= 0 {
		return r.Delete(iface)
	}

	raw, err := json.Marshal(newRecord(l))
	if err != nil {
		return errors.Wrapf(err, "can't convert lease for '%s'", key)
	}

	if err := r.Client.Set(key, raw, ttl).Err(); err != nil {
		return errors.Wrapf(err, "can't add '%s' to the cache", key)
	}

	logrus.WithField("iface", iface).Debugf("Wrote lease to '%s', expiring in %s", key, ttl)
	return nil
}

func (r Redis) Delete(iface string) error {
	key := keyIface(4, iface)
	if err := r.Client.Del(key).Err(); err != nil {
		return errors.Wrapf(err, "can't remove '%s' from the cache", key)
	}
	return nil
}

func keyIface(family uint8, iface string) string {
	return fmt.Sprintf("v%d;%s", family, iface)
}
