// Package cache configures the external caches leases are kept in.
package cache

import "github.com/cimnine/netbox-dhclient/cache/redis"

type CacheConfig struct {
	Redis redis.RedisConfig
}
