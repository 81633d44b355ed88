// Package cache holds the redis client used for alerts and push markers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var ErrNoClient = errors.New("redis is not configured")

// NewClient returns nil when addr is empty so callers can treat redis as optional.
func NewClient(addr, password string, db int) *redis.Client {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func Ping(ctx context.Context, c *redis.Client) error {
	if c == nil {
		return ErrNoClient
	}
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", c.Options().Addr, err)
	}
	return nil
}
