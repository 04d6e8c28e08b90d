package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

const (
	stateUninitialized int32 = iota
	stateInitialized
	stateDisposed
)

// Controller drives the size of a pool once it is initialized.
type Controller interface {
	Start(pool keyvaluestore.Pool)
	Close()
}

type sendItem struct {
	ctx context.Context
	op  *keyvaluestore.Operation
}

type pool struct {
	node   *keyvaluestore.Node
	dialer keyvaluestore.Dialer

	minimumSize       int
	maximumSize       int
	sendQueueCapacity int
	closeTimeout      time.Duration
	controller        Controller

	state int32
	queue chan sendItem
	// lock is the freeze semaphore; membership only changes while it is held.
	lock chan struct{}

	mu         sync.RWMutex
	processors []*processor

	sendMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queueFull         *metrics.Counter
	canceledSkipped   *metrics.Counter
	connectionsOpened *metrics.Counter
	connectionsClosed *metrics.Counter
	dialFailures      *metrics.Counter
	scaleUps          *metrics.Counter
	scaleDowns        *metrics.Counter
}

func New(node *keyvaluestore.Node, dialer keyvaluestore.Dialer, options ...Option) keyvaluestore.Pool {
	ctx, cancel := context.WithCancel(context.Background())

	result := &pool{
		node:              node,
		dialer:            dialer,
		minimumSize:       DefaultMinimumSize,
		maximumSize:       DefaultMaximumSize,
		sendQueueCapacity: DefaultSendQueueCapacity,
		closeTimeout:      DefaultCloseTimeout,
		controller:        NewScaleController(),
		lock:              make(chan struct{}, 1),
		ctx:               ctx,
		cancel:            cancel,
	}

	for _, option := range options {
		option(result)
	}

	if result.minimumSize < 1 {
		result.minimumSize = 1
	}
	if result.maximumSize < result.minimumSize {
		result.maximumSize = result.minimumSize
	}
	if result.sendQueueCapacity < 1 {
		result.sendQueueCapacity = DefaultSendQueueCapacity
	}

	result.queue = make(chan sendItem, result.sendQueueCapacity)

	counter := func(name string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`kvdispatch_pool_%s_total{node=%q}`, name, node.ID))
	}
	result.queueFull = counter("send_queue_full")
	result.canceledSkipped = counter("canceled_skipped")
	result.connectionsOpened = counter("connections_opened")
	result.connectionsClosed = counter("connections_closed")
	result.dialFailures = counter("dial_failures")
	result.scaleUps = counter("scale_up")
	result.scaleDowns = counter("scale_down")

	return result
}

func (p *pool) Initialize(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, stateUninitialized, stateInitialized) {
		if atomic.LoadInt32(&p.state) == stateDisposed {
			return keyvaluestore.ErrPoolUnavailable
		}
		return nil
	}

	release, err := p.Freeze(ctx)
	if err != nil {
		return err
	}

	opened, err := p.open(ctx, p.minimumSize)
	release()

	if opened == 0 {
		p.node.MarkDead()
		logrus.WithError(err).WithField("node", p.node.ID).Error("could not open any connection")
	} else if opened < p.minimumSize {
		logrus.WithError(err).WithFields(logrus.Fields{
			"node":   p.node.ID,
			"opened": opened,
		}).Warn("pool initialized below minimum size")
	}

	if p.controller != nil {
		p.controller.Start(p)
	}

	if opened == 0 {
		return errors.Wrapf(err, "initializing pool of %v", p.node)
	}

	return nil
}

func (p *pool) Send(ctx context.Context, op *keyvaluestore.Operation) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	if atomic.LoadInt32(&p.state) == stateDisposed {
		return keyvaluestore.ErrPoolUnavailable
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.queue <- sendItem{ctx: ctx, op: op}:
		return nil
	default:
		p.queueFull.Inc()
		return errors.Wrapf(keyvaluestore.ErrSendQueueFull, "pool of %v holds %d pending sends",
			p.node, p.sendQueueCapacity)
	}
}

func (p *pool) Scale(ctx context.Context, delta int) error {
	if delta == 0 {
		return nil
	}

	release, err := p.Freeze(ctx)
	if err != nil {
		return err
	}
	defer release()

	if atomic.LoadInt32(&p.state) == stateDisposed {
		return keyvaluestore.ErrPoolUnavailable
	}

	size := p.Size()

	if delta > 0 {
		count := min(delta, p.maximumSize-size)
		if count <= 0 {
			return nil
		}

		opened, err := p.open(ctx, count)
		if opened > 0 {
			p.scaleUps.Inc()
			logrus.WithFields(logrus.Fields{
				"node": p.node.ID,
				"size": size + opened,
			}).Debug("pool scaled up")
		}
		if opened < count {
			return errors.Wrapf(err, "opened %d of %d connections to %v", opened, count, p.node)
		}
		return nil
	}

	count := min(-delta, size-p.minimumSize)
	if count <= 0 {
		return nil
	}

	for _, removed := range p.remove(p.idlest(count)) {
		removed.stop()
	}

	p.scaleDowns.Inc()
	logrus.WithFields(logrus.Fields{
		"node": p.node.ID,
		"size": size - count,
	}).Debug("pool scaled down")

	return nil
}

func (p *pool) Freeze(ctx context.Context) (func(), error) {
	select {
	case p.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-p.lock
		})
	}, nil
}

func (p *pool) Connections() []keyvaluestore.Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]keyvaluestore.Connection, 0, len(p.processors))
	for _, processor := range p.processors {
		result = append(result, processor.conn)
	}

	return result
}

func (p *pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.processors)
}

func (p *pool) MinimumSize() int {
	return p.minimumSize
}

func (p *pool) MaximumSize() int {
	return p.maximumSize
}

func (p *pool) PendingSends() int {
	return len(p.queue)
}

func (p *pool) Close() error {
	p.sendMu.Lock()
	previous := atomic.SwapInt32(&p.state, stateDisposed)
	p.sendMu.Unlock()

	if previous == stateDisposed {
		return nil
	}

	if p.controller != nil {
		p.controller.Close()
	}

	p.cancel()

	release, _ := p.Freeze(context.Background())
	p.mu.Lock()
	processors := p.processors
	p.processors = nil
	p.mu.Unlock()
	release()

	for _, processor := range processors {
		processor.stop()
	}

	p.wg.Wait()

	for {
		select {
		case item := <-p.queue:
			item.op.Complete(nil, keyvaluestore.ErrPoolUnavailable)
		default:
			return nil
		}
	}
}

// open dials count connections in parallel and starts a processor for each
// one that succeeds. The caller must hold the freeze lock.
func (p *pool) open(ctx context.Context, count int) (int, error) {
	var (
		group   errgroup.Group
		mu      sync.Mutex
		opened  []keyvaluestore.Connection
		lastErr error
	)

	for i := 0; i < count; i++ {
		group.Go(func() error {
			conn, err := p.dialer.Dial(ctx, p.node)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				p.dialFailures.Inc()
				lastErr = err
				logrus.WithError(err).WithField("node", p.node.ID).Warn("could not open connection")
				return nil
			}

			opened = append(opened, conn)
			return nil
		})
	}

	_ = group.Wait()

	if len(opened) == 0 {
		if lastErr == nil {
			lastErr = keyvaluestore.ErrPoolUnavailable
		}
		return 0, lastErr
	}

	p.node.MarkAlive()

	p.mu.Lock()
	for _, conn := range opened {
		processor := newProcessor(p, conn)
		p.processors = append(p.processors, processor)
		p.connectionsOpened.Inc()

		p.wg.Add(1)
		go processor.run()
	}
	p.mu.Unlock()

	return len(opened), lastErr
}

// idlest returns up to count processors ordered by descending idle time.
func (p *pool) idlest(count int) []*processor {
	p.mu.RLock()
	candidates := make([]*processor, len(p.processors))
	copy(candidates, p.processors)
	p.mu.RUnlock()

	idle := make(map[*processor]time.Duration, len(candidates))
	for _, candidate := range candidates {
		idle[candidate] = candidate.conn.IdleTime()
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return idle[candidates[i]] > idle[candidates[j]]
	})

	if count > len(candidates) {
		count = len(candidates)
	}

	return candidates[:count]
}

// remove drops processors from the membership and returns the ones that
// were still members. The caller must hold the freeze lock.
func (p *pool) remove(targets []*processor) []*processor {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []*processor
	kept := p.processors[:0]

	for _, processor := range p.processors {
		found := false
		for _, target := range targets {
			if processor == target {
				found = true
				break
			}
		}

		if found {
			removed = append(removed, processor)
		} else {
			kept = append(kept, processor)
		}
	}

	for i := len(kept); i < len(p.processors); i++ {
		p.processors[i] = nil
	}
	p.processors = kept

	return removed
}

// replace runs on the goroutine of a processor whose connection died.
func (p *pool) replace(dead *processor) {
	release, err := p.Freeze(p.ctx)
	if err != nil {
		return
	}
	defer release()

	p.remove([]*processor{dead})

	if atomic.LoadInt32(&p.state) == stateDisposed {
		return
	}

	missing := p.minimumSize - p.Size()
	if missing <= 0 {
		return
	}

	if opened, err := p.open(p.ctx, missing); opened < missing {
		logrus.WithError(err).WithFields(logrus.Fields{
			"node":    p.node.ID,
			"missing": missing - opened,
		}).Warn("could not replenish pool")

		if p.Size() == 0 {
			p.node.MarkDead()
		}
	}
}
