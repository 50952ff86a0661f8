package store

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Driver selects the Store implementation.
type Driver string

const (
	DriverFile  Driver = "file"
	DriverRedis Driver = "redis"
)

var ErrInvalidDriver = errors.New("invalid store driver")

type options struct {
	path     string
	redisURL string
	redisKey string
}

// Option configures NewStore.
type Option func(*options)

// WithPath sets the file driver location.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithRedis sets the redis connection URL and document key.
func WithRedis(url, key string) Option {
	return func(o *options) {
		o.redisURL = url
		o.redisKey = key
	}
}

// NewStore builds the Store for driver.
func NewStore(driver Driver, opts ...Option) (Store, error) {
	cfg := &options{path: "db.json"}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case DriverFile, "":
		return NewFileStore(cfg.path), nil
	case DriverRedis:
		redisOpts, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedisStore(redis.NewClient(redisOpts), cfg.redisKey), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}
