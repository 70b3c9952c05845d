package redis

import (
	"fmt"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// NewClient connects to the configured server and checks it is reachable.
func NewClient(config *RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr(),
		Password: config.Password,
		DB:       int(config.Database),
	})

	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "can't reach redis at '%s'", config.Addr())
	}
	return client, nil
}

type RedisConfig struct {
	Host     string
	Port     uint16
	Password string
	Database uint8
}

// Enabled reports whether a redis server is configured at all.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}
