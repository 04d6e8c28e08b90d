package pool

import "time"

const (
	DefaultMinimumSize       = 2
	DefaultMaximumSize       = 5
	DefaultSendQueueCapacity = 1024
	DefaultCloseTimeout      = 60 * time.Second
)

type Option func(p *pool)

func WithMinimumSize(size int) Option {
	return func(p *pool) {
		p.minimumSize = size
	}
}

func WithMaximumSize(size int) Option {
	return func(p *pool) {
		p.maximumSize = size
	}
}

func WithSendQueueCapacity(capacity int) Option {
	return func(p *pool) {
		p.sendQueueCapacity = capacity
	}
}

// WithCloseTimeout bounds how long a removed connection may keep finishing
// in-flight work before it is closed.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(p *pool) {
		p.closeTimeout = timeout
	}
}

// WithScaleController replaces the default scale controller. A nil
// controller disables automatic scaling.
func WithScaleController(controller Controller) Option {
	return func(p *pool) {
		p.controller = controller
	}
}
