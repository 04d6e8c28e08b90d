package pool

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

var errConnectionDead = errors.New("connection is dead")

// processor owns one connection and feeds it from the shared queue of its
// pool until it is stopped or the connection dies.
type processor struct {
	pool *pool
	conn keyvaluestore.Connection

	stopped  chan struct{}
	stopOnce sync.Once
}

func newProcessor(p *pool, conn keyvaluestore.Connection) *processor {
	return &processor{
		pool:    p,
		conn:    conn,
		stopped: make(chan struct{}),
	}
}

// stop asks the processor to finish the operation it is writing, if any, and
// close its connection. It does not wait.
func (p *processor) stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
	})
}

func (p *processor) run() {
	defer p.pool.wg.Done()

	if p.loop() {
		logrus.WithFields(logrus.Fields{
			"node":       p.pool.node.ID,
			"connection": p.conn.ID(),
		}).Warn("connection died, replacing")

		p.pool.replace(p)
	}

	p.close()
}

// loop returns true when it exited because the connection died.
func (p *processor) loop() bool {
	for {
		select {
		case <-p.stopped:
			return false
		default:
		}

		if p.conn.IsDead() {
			return true
		}

		select {
		case <-p.stopped:
			return false
		case item := <-p.pool.queue:
			if p.conn.IsDead() {
				p.requeue(item)
				return true
			}

			p.process(item)
		}
	}
}

func (p *processor) process(item sendItem) {
	if item.op.IsCanceled() || item.ctx.Err() != nil || !item.op.TryMarkSent() {
		p.pool.canceledSkipped.Inc()

		err := item.ctx.Err()
		if err == nil {
			err = keyvaluestore.ErrCanceled
		}
		item.op.Complete(nil, err)
		return
	}

	if err := p.conn.Send(item.ctx, item.op); err != nil {
		item.op.Complete(nil, err)
	}
}

// requeue hands an item taken by a dead connection back to its siblings.
func (p *processor) requeue(item sendItem) {
	select {
	case p.pool.queue <- item:
	default:
		item.op.Complete(nil, keyvaluestore.NetworkError(errConnectionDead))
	}
}

func (p *processor) close() {
	if err := p.conn.Close(p.pool.closeTimeout); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"node":       p.pool.node.ID,
			"connection": p.conn.ID(),
		}).Warn("could not close connection")
	}

	p.pool.connectionsClosed.Inc()
}
