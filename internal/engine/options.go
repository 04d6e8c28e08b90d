package engine

import (
	"time"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

const (
	DefaultMaxRetries        = 10
	DefaultTimeout           = 2500 * time.Millisecond
	DefaultBackoffInitial    = time.Millisecond
	DefaultBackoffMax        = 500 * time.Millisecond
	DefaultDurabilityTimeout = 10 * time.Second
	DefaultObserveInterval   = 10 * time.Millisecond
)

type Option func(e *executor)

// WithMaxRetries bounds the retries of operations of type code.
func WithMaxRetries(code keyvaluestore.OpCode, n int) Option {
	return func(e *executor) {
		e.maxRetries[code] = n
	}
}

func WithDefaultMaxRetries(n int) Option {
	return func(e *executor) {
		e.defaultMaxRetries = n
	}
}

// WithDefaultTimeout is applied to operations without a Deadline.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(e *executor) {
		e.defaultTimeout = timeout
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(e *executor) {
		e.backoffInitial = initial
		e.backoffMax = max
	}
}

func WithDurabilityTimeout(timeout time.Duration) Option {
	return func(e *executor) {
		e.durabilityTimeout = timeout
	}
}

func WithObserveInterval(interval time.Duration) Option {
	return func(e *executor) {
		e.observeInterval = interval
	}
}

// WithReplicaFallback makes a Get that misses on the primary ask every
// replica of the partition before reporting not found.
func WithReplicaFallback(enabled bool) Option {
	return func(e *executor) {
		e.replicaFallback = enabled
	}
}
