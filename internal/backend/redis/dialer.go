package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

type Option func(d *dialer)

func WithPassword(password string) Option {
	return func(d *dialer) {
		d.password = password
	}
}

func WithDB(db int) Option {
	return func(d *dialer) {
		d.db = db
	}
}

func WithDialTimeout(timeout time.Duration) Option {
	return func(d *dialer) {
		d.dialTimeout = timeout
	}
}

func WithReadTimeout(timeout time.Duration) Option {
	return func(d *dialer) {
		d.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *dialer) {
		d.writeTimeout = timeout
	}
}

type dialer struct {
	password     string
	db           int
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewDialer returns a dialer whose every connection is a single Redis
// socket.
func NewDialer(options ...Option) keyvaluestore.Dialer {
	result := &dialer{
		dialTimeout:  5 * time.Second,
		readTimeout:  3 * time.Second,
		writeTimeout: 3 * time.Second,
	}

	for _, option := range options {
		option(result)
	}

	return result
}

func (d *dialer) Dial(ctx context.Context, node *keyvaluestore.Node) (keyvaluestore.Connection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         node.Address,
		Password:     d.password,
		DB:           d.db,
		PoolSize:     1,
		MaxRetries:   0,
		DialTimeout:  d.dialTimeout,
		ReadTimeout:  d.readTimeout,
		WriteTimeout: d.writeTimeout,
	})

	if err := client.WithContext(ctx).Ping().Err(); err != nil {
		client.Close()
		return nil, keyvaluestore.NetworkError(err)
	}

	return newConnection(node, client), nil
}
