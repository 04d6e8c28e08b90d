package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cafebazaar/kvdispatch/internal/pool"
	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

var errBadKey = errors.New("bad key")

type fakeConnection struct {
	id    string
	idle  time.Duration
	block chan struct{}

	dead   int32
	closed int32
	sent   int32

	received chan *keyvaluestore.Operation
}

func (c *fakeConnection) ID() string {
	return c.id
}

func (c *fakeConnection) Send(ctx context.Context, op *keyvaluestore.Operation) error {
	atomic.AddInt32(&c.sent, 1)
	c.received <- op

	if c.block != nil {
		<-c.block
	}

	if op.Key == "bad" {
		return errBadKey
	}

	op.Complete(&keyvaluestore.Result{Status: keyvaluestore.StatusSuccess, Node: c.id}, nil)
	return nil
}

func (c *fakeConnection) IsDead() bool {
	return atomic.LoadInt32(&c.dead) == 1
}

func (c *fakeConnection) IdleTime() time.Duration {
	return c.idle
}

func (c *fakeConnection) Close(timeout time.Duration) error {
	atomic.StoreInt32(&c.closed, 1)
	return nil
}

func (c *fakeConnection) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

type fakeDialer struct {
	mu          sync.Mutex
	dials       int
	fail        bool
	idle        []time.Duration
	block       chan struct{}
	connections []*fakeConnection
}

func (d *fakeDialer) Dial(ctx context.Context, node *keyvaluestore.Node) (keyvaluestore.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}

	conn := &fakeConnection{
		id:       fmt.Sprintf("%s#%d", node.ID, d.dials),
		block:    d.block,
		received: make(chan *keyvaluestore.Operation, 100),
	}
	if len(d.idle) > 0 {
		conn.idle = d.idle[0]
		d.idle = d.idle[1:]
	}

	d.connections = append(d.connections, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func (d *fakeDialer) all() []*fakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make([]*fakeConnection, len(d.connections))
	copy(result, d.connections)
	return result
}

type PoolTestSuite struct {
	suite.Suite

	node   *keyvaluestore.Node
	dialer *fakeDialer
	pools  []keyvaluestore.Pool
}

func TestPoolTestSuite(t *testing.T) {
	suite.Run(t, new(PoolTestSuite))
}

func (s *PoolTestSuite) SetupTest() {
	s.node = keyvaluestore.NewNode("127.0.0.1:11210", keyvaluestore.ServiceKeyValue)
	s.dialer = &fakeDialer{}
	s.pools = nil
}

func (s *PoolTestSuite) TearDownTest() {
	for _, p := range s.pools {
		p.Close()
	}
}

func (s *PoolTestSuite) TestInitializeShouldOpenMinimumSizeConnections() {
	p := s.makePool()

	s.Nil(p.Initialize(context.Background()))
	s.Equal(2, p.Size())
	s.Equal(2, s.dialer.dialCount())
	s.Len(p.Connections(), 2)
}

func (s *PoolTestSuite) TestInitializeShouldBeIdempotent() {
	p := s.makePool()

	s.Nil(p.Initialize(context.Background()))
	s.Nil(p.Initialize(context.Background()))
	s.Equal(2, s.dialer.dialCount())
}

func (s *PoolTestSuite) TestInitializeShouldMarkNodeDeadWhenNoConnectionOpens() {
	s.dialer.fail = true
	p := s.makePool()

	s.NotNil(p.Initialize(context.Background()))
	s.Equal(0, p.Size())
	s.True(s.node.IsDead())
}

func (s *PoolTestSuite) TestInitializeShouldAcceptPartialSuccess() {
	dialer := &keyvaluestore.Mock_Dialer{}
	dialer.On("Dial", mock.Anything, s.node).Once().Return(nil, errors.New("connection refused"))
	dialer.On("Dial", mock.Anything, s.node).Once().Return(&fakeConnection{
		id:       "only",
		received: make(chan *keyvaluestore.Operation, 1),
	}, nil)

	s.node.MarkDead()
	p := pool.New(s.node, dialer, pool.WithScaleController(nil))
	s.pools = append(s.pools, p)

	s.Nil(p.Initialize(context.Background()))
	s.Equal(1, p.Size())
	s.False(s.node.IsDead())
	dialer.AssertNumberOfCalls(s.T(), "Dial", 2)
}

func (s *PoolTestSuite) TestSendShouldDeliverOperationToConnection() {
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))

	op := keyvaluestore.NewOperation(keyvaluestore.OpGet, "key")
	s.Nil(p.Send(context.Background(), op))

	result, err := op.Wait(s.timeout())
	s.Nil(err)
	s.Equal(keyvaluestore.StatusSuccess, result.Status)
	s.True(op.IsSent())
}

func (s *PoolTestSuite) TestSendShouldFailFastWhenQueueIsFull() {
	s.dialer.block = make(chan struct{})
	defer close(s.dialer.block)

	p := s.makePool(pool.WithMinimumSize(1), pool.WithSendQueueCapacity(1))
	s.Nil(p.Initialize(context.Background()))

	s.Nil(p.Send(context.Background(), keyvaluestore.NewOperation(keyvaluestore.OpGet, "first")))
	s.waitReceived(s.dialer.all()[0])

	s.Nil(p.Send(context.Background(), keyvaluestore.NewOperation(keyvaluestore.OpGet, "second")))
	s.Equal(1, p.PendingSends())

	start := time.Now()
	err := p.Send(context.Background(), keyvaluestore.NewOperation(keyvaluestore.OpGet, "third"))
	s.ErrorIs(err, keyvaluestore.ErrSendQueueFull)
	s.Less(time.Since(start), 100*time.Millisecond)
}

func (s *PoolTestSuite) TestSendShouldFailWithCanceledContext() {
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.ErrorIs(p.Send(ctx, keyvaluestore.NewOperation(keyvaluestore.OpGet, "key")), context.Canceled)
}

func (s *PoolTestSuite) TestSendShouldReturnPoolUnavailableAfterClose() {
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))
	s.Nil(p.Close())

	err := p.Send(context.Background(), keyvaluestore.NewOperation(keyvaluestore.OpGet, "key"))
	s.ErrorIs(err, keyvaluestore.ErrPoolUnavailable)
}

func (s *PoolTestSuite) TestProcessorShouldSkipCanceledOperation() {
	p := s.makePool(pool.WithMinimumSize(1))
	s.Nil(p.Initialize(context.Background()))
	conn := s.dialer.all()[0]

	canceled := keyvaluestore.NewOperation(keyvaluestore.OpSet, "canceled")
	canceled.Cancel()
	s.Nil(p.Send(context.Background(), canceled))

	_, err := canceled.Wait(s.timeout())
	s.ErrorIs(err, keyvaluestore.ErrCanceled)
	s.False(canceled.IsSent())
	s.Zero(atomic.LoadInt32(&conn.sent))

	op := keyvaluestore.NewOperation(keyvaluestore.OpGet, "key")
	s.Nil(p.Send(context.Background(), op))
	_, err = op.Wait(s.timeout())
	s.Nil(err)

	s.Equal(1, p.Size())
	s.False(conn.isClosed())
	s.Equal(int32(1), atomic.LoadInt32(&conn.sent))
}

func (s *PoolTestSuite) TestSendErrorShouldOnlyFailItsOwnOperation() {
	p := s.makePool(pool.WithMinimumSize(1))
	s.Nil(p.Initialize(context.Background()))

	bad := keyvaluestore.NewOperation(keyvaluestore.OpGet, "bad")
	good := keyvaluestore.NewOperation(keyvaluestore.OpGet, "good")
	s.Nil(p.Send(context.Background(), bad))
	s.Nil(p.Send(context.Background(), good))

	_, err := bad.Wait(s.timeout())
	s.ErrorIs(err, errBadKey)

	result, err := good.Wait(s.timeout())
	s.Nil(err)
	s.Equal(keyvaluestore.StatusSuccess, result.Status)
	s.Equal(1, p.Size())
}

func (s *PoolTestSuite) TestScaleShouldRespectBounds() {
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))

	s.Nil(p.Scale(context.Background(), 10))
	s.Equal(5, p.Size())

	s.Nil(p.Scale(context.Background(), 1))
	s.Equal(5, p.Size())

	s.Nil(p.Scale(context.Background(), -10))
	s.Equal(2, p.Size())

	s.Nil(p.Scale(context.Background(), -1))
	s.Equal(2, p.Size())
}

func (s *PoolTestSuite) TestScaleDownShouldEvictLongestIdleFirst() {
	s.dialer.idle = []time.Duration{
		1 * time.Second, 5 * time.Second, 3 * time.Second, 4 * time.Second, 2 * time.Second,
	}
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))
	s.Nil(p.Scale(context.Background(), 3))
	s.Equal(5, p.Size())

	s.Nil(p.Scale(context.Background(), -2))
	s.Equal(3, p.Size())

	var remaining []time.Duration
	for _, conn := range p.Connections() {
		remaining = append(remaining, conn.IdleTime())
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
	s.Equal([]time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, remaining)

	s.Eventually(func() bool {
		for _, conn := range s.dialer.all() {
			if conn.isClosed() != (conn.idle >= 4*time.Second) {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func (s *PoolTestSuite) TestDeadConnectionShouldBeReplaced() {
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))
	first := s.dialer.all()[0]
	atomic.StoreInt32(&first.dead, 1)

	for i := 0; i < 4; i++ {
		op := keyvaluestore.NewOperation(keyvaluestore.OpGet, fmt.Sprintf("key-%d", i))
		s.Nil(p.Send(context.Background(), op))
		_, _ = op.Wait(s.timeout())
	}

	s.Eventually(func() bool {
		return first.isClosed() && p.Size() == 2 && s.dialer.dialCount() == 3
	}, time.Second, 10*time.Millisecond)

	for _, conn := range p.Connections() {
		s.NotEqual(first.ID(), conn.ID())
	}
}

func (s *PoolTestSuite) TestOperationTakenByDeadConnectionShouldBeServedByReplacement() {
	p := s.makePool(pool.WithMinimumSize(1))
	s.Nil(p.Initialize(context.Background()))
	first := s.dialer.all()[0]
	atomic.StoreInt32(&first.dead, 1)

	op := keyvaluestore.NewOperation(keyvaluestore.OpGet, "key")
	s.Nil(p.Send(context.Background(), op))

	result, err := op.Wait(s.timeout())
	s.Require().Nil(err)
	s.NotEqual(first.ID(), result.Node)
	s.Zero(atomic.LoadInt32(&first.sent))
	s.True(op.IsSent())
}

func (s *PoolTestSuite) TestOperationBeingWrittenShouldNotBeCancelable() {
	s.dialer.block = make(chan struct{})
	p := s.makePool(pool.WithMinimumSize(1))
	s.Nil(p.Initialize(context.Background()))
	conn := s.dialer.all()[0]

	op := keyvaluestore.NewOperation(keyvaluestore.OpSet, "key")
	s.Nil(p.Send(context.Background(), op))
	s.waitReceived(conn)

	s.False(op.TryCancel())
	s.True(op.IsSent())
	s.False(op.IsCanceled())

	close(s.dialer.block)
	_, err := op.Wait(s.timeout())
	s.Nil(err)
}

func (s *PoolTestSuite) TestFreezeShouldBlockScale() {
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))

	release, err := p.Freeze(context.Background())
	s.Nil(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.ErrorIs(p.Scale(ctx, 1), context.DeadlineExceeded)
	s.Equal(2, p.Size())

	release()
	release()

	s.Nil(p.Scale(context.Background(), 1))
	s.Equal(3, p.Size())
}

func (s *PoolTestSuite) TestCloseShouldFailQueuedOperations() {
	s.dialer.fail = true
	p := s.makePool()
	s.NotNil(p.Initialize(context.Background()))

	op := keyvaluestore.NewOperation(keyvaluestore.OpGet, "key")
	s.Nil(p.Send(context.Background(), op))
	s.Nil(p.Close())

	_, err := op.Wait(s.timeout())
	s.ErrorIs(err, keyvaluestore.ErrPoolUnavailable)
}

func (s *PoolTestSuite) TestCloseShouldCloseAllConnections() {
	p := s.makePool()
	s.Nil(p.Initialize(context.Background()))
	s.Nil(p.Close())
	s.Nil(p.Close())

	for _, conn := range s.dialer.all() {
		s.True(conn.isClosed())
	}
	s.Equal(0, p.Size())
	s.ErrorIs(p.Scale(context.Background(), 1), keyvaluestore.ErrPoolUnavailable)
}

func (s *PoolTestSuite) makePool(options ...pool.Option) keyvaluestore.Pool {
	options = append([]pool.Option{pool.WithScaleController(nil)}, options...)
	p := pool.New(s.node, s.dialer, options...)
	s.pools = append(s.pools, p)
	return p
}

func (s *PoolTestSuite) waitReceived(conn *fakeConnection) {
	select {
	case <-conn.received:
	case <-time.After(time.Second):
		s.FailNow("operation was not received")
	}
}

func (s *PoolTestSuite) timeout() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	s.T().Cleanup(cancel)
	return ctx
}
