package pool

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

const (
	DefaultScaleInterval         = time.Second
	DefaultBackPressureThreshold = 4
	DefaultIdleConnectionTimeout = 5 * time.Minute
)

type ScaleOption func(c *ScaleController)

func WithInterval(interval time.Duration) ScaleOption {
	return func(c *ScaleController) {
		c.interval = interval
	}
}

// WithBackPressureThreshold sets the number of pending sends above which the
// pool is considered saturated.
func WithBackPressureThreshold(threshold int) ScaleOption {
	return func(c *ScaleController) {
		c.backPressureThreshold = threshold
	}
}

func WithIdleConnectionTimeout(timeout time.Duration) ScaleOption {
	return func(c *ScaleController) {
		c.idleConnectionTimeout = timeout
	}
}

// ScaleController grows a pool by one connection per tick while it is under
// backpressure and shrinks it by one per tick once every connection is idle.
// A controller serves a single pool.
type ScaleController struct {
	interval              time.Duration
	backPressureThreshold int
	idleConnectionTimeout time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewScaleController(options ...ScaleOption) *ScaleController {
	ctx, cancel := context.WithCancel(context.Background())

	result := &ScaleController{
		interval:              DefaultScaleInterval,
		backPressureThreshold: DefaultBackPressureThreshold,
		idleConnectionTimeout: DefaultIdleConnectionTimeout,
		ctx:                   ctx,
		cancel:                cancel,
	}

	for _, option := range options {
		option(result)
	}

	return result
}

func (c *ScaleController) Start(pool keyvaluestore.Pool) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.loop(pool)
	})
}

func (c *ScaleController) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
	})

	c.wg.Wait()
}

func (c *ScaleController) loop(pool keyvaluestore.Pool) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Evaluate(c.ctx, pool); err != nil && c.ctx.Err() == nil {
				logrus.WithError(err).Warn("could not scale pool")
			}
		}
	}
}

// Evaluate runs a single tick against pool. Growing and shrinking are
// mutually exclusive.
func (c *ScaleController) Evaluate(ctx context.Context, pool keyvaluestore.Pool) error {
	size := pool.Size()

	switch {
	case size < pool.MinimumSize():
		return pool.Scale(ctx, 1)

	case pool.PendingSends() > c.backPressureThreshold && size < pool.MaximumSize():
		return pool.Scale(ctx, 1)

	case size > pool.MinimumSize() && c.allIdle(pool.Connections()):
		return pool.Scale(ctx, -1)
	}

	return nil
}

func (c *ScaleController) allIdle(connections []keyvaluestore.Connection) bool {
	if len(connections) == 0 {
		return false
	}

	for _, conn := range connections {
		if conn.IdleTime() < c.idleConnectionTimeout {
			return false
		}
	}

	return true
}
