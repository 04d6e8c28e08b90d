package dynamic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cafebazaar/kvdispatch/internal/cluster/ketama"
	"github.com/cafebazaar/kvdispatch/internal/cluster/vbucket"
	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

// PoolFactory creates the (uninitialized) connection pool of a node.
type PoolFactory func(node *keyvaluestore.Node) keyvaluestore.Pool

// Cluster is a keyvaluestore.Cluster fed with topology snapshots by the
// cluster controller.
type Cluster interface {
	keyvaluestore.Cluster

	Update(ctx context.Context, topology *keyvaluestore.Topology) error
	Topology() *keyvaluestore.Topology
}

type state struct {
	topology  *keyvaluestore.Topology
	mapper    keyvaluestore.KeyMapper
	keyValue  bool
	nodeIndex map[string]*keyvaluestore.Node
}

type dynamicCluster struct {
	poolFactory       PoolFactory
	initializeTimeout time.Duration

	state   atomic.Pointer[state]
	pools   *xsync.MapOf[string, keyvaluestore.Pool]
	updates sync.Mutex

	closing   sync.WaitGroup
	closed    int32
	closeOnce sync.Once
}

const DefaultInitializeTimeout = 10 * time.Second

type Option func(c *dynamicCluster)

func New(poolFactory PoolFactory, options ...Option) Cluster {
	result := &dynamicCluster{
		poolFactory:       poolFactory,
		initializeTimeout: DefaultInitializeTimeout,
		pools:             xsync.NewMapOf[string, keyvaluestore.Pool](),
	}

	for _, option := range options {
		option(result)
	}

	return result
}

// WithInitializeTimeout bounds how long Update waits for the pools of new
// nodes to open their first connections.
func WithInitializeTimeout(timeout time.Duration) Option {
	return func(c *dynamicCluster) {
		c.initializeTimeout = timeout
	}
}

func (c *dynamicCluster) Update(ctx context.Context, topology *keyvaluestore.Topology) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return keyvaluestore.ErrClosed
	}

	c.updates.Lock()
	defer c.updates.Unlock()

	if err := topology.Validate(); err != nil {
		return err
	}

	previous := c.state.Load()
	if previous != nil && topology.Revision <= previous.topology.Revision {
		return errors.Wrapf(keyvaluestore.ErrStaleRevision, "got revision %d, have %d",
			topology.Revision, previous.topology.Revision)
	}

	next := &state{
		topology:  c.adoptNodes(previous, topology),
		keyValue:  topology.Supports(keyvaluestore.ServiceKeyValue),
		nodeIndex: make(map[string]*keyvaluestore.Node),
	}

	for _, node := range next.topology.Nodes {
		next.nodeIndex[node.ID] = node
	}

	if next.topology.Type == keyvaluestore.BucketTypeHashRing {
		next.mapper = ketama.NewKeyMapper(next.topology)
	} else {
		mapper, err := vbucket.New(next.topology)
		if err != nil {
			return err
		}
		next.mapper = mapper
	}

	c.createPools(ctx, previous, next)
	c.state.Store(next)

	c.pools.Range(func(id string, pool keyvaluestore.Pool) bool {
		if node, ok := next.nodeIndex[id]; ok && node.Services.Has(keyvaluestore.ServiceKeyValue) {
			return true
		}

		c.pools.Delete(id)
		c.closePool(id, pool)
		return true
	})

	logrus.WithFields(logrus.Fields{
		"bucket":   next.topology.Bucket,
		"type":     next.topology.Type,
		"revision": next.topology.Revision,
		"nodes":    len(next.topology.Nodes),
	}).Info("topology updated")

	return nil
}

// adoptNodes returns a copy of topology in which nodes already known keep
// their previous *Node so that liveness survives the update.
func (c *dynamicCluster) adoptNodes(previous *state, topology *keyvaluestore.Topology) *keyvaluestore.Topology {
	result := *topology
	result.Nodes = make([]*keyvaluestore.Node, len(topology.Nodes))

	for i, node := range topology.Nodes {
		result.Nodes[i] = node

		if previous == nil {
			continue
		}

		known, ok := previous.nodeIndex[node.ID]
		if ok && known.Address == node.Address && known.Services == node.Services {
			result.Nodes[i] = known
		}
	}

	return &result
}

// createPools opens a pool for every key-value node of next that has none.
// A pool whose node was replaced by adoptNodes is replaced as well, so the
// pool always reports liveness on the *Node the mapper routes to.
func (c *dynamicCluster) createPools(ctx context.Context, previous, next *state) {
	ctx, cancel := context.WithTimeout(ctx, c.initializeTimeout)
	defer cancel()

	var group errgroup.Group

	for _, node := range next.topology.Nodes {
		if !node.Services.Has(keyvaluestore.ServiceKeyValue) {
			continue
		}

		stale, ok := c.pools.Load(node.ID)
		if ok && previous != nil && previous.nodeIndex[node.ID] == node {
			continue
		}

		node := node
		pool := c.poolFactory(node)
		c.pools.Store(node.ID, pool)

		if ok {
			logrus.WithField("node", node.ID).Info("node changed, replacing its connection pool")
			c.closePool(node.ID, stale)
		}

		group.Go(func() error {
			if err := pool.Initialize(ctx); err != nil {
				logrus.WithError(err).WithField("node", node.ID).Error("failed to initialize connection pool")
			}
			return nil
		})
	}

	_ = group.Wait()
}

func (c *dynamicCluster) closePool(id string, pool keyvaluestore.Pool) {
	c.closing.Add(1)

	go func() {
		defer c.closing.Done()

		if err := pool.Close(); err != nil {
			logrus.WithError(err).WithField("node", id).Warn("failed to close connection pool")
		}
	}()
}

func (c *dynamicCluster) current() (*state, error) {
	s := c.state.Load()
	if s == nil {
		return nil, errors.Wrap(keyvaluestore.ErrNoNodesAvailable, "no topology received yet")
	}

	if !s.keyValue {
		return nil, errors.Wrapf(keyvaluestore.ErrServiceNotSupported,
			"no node of bucket %s runs the key-value service", s.topology.Bucket)
	}

	return s, nil
}

func (c *dynamicCluster) Route(key string, lastTriedRevision uint64) (keyvaluestore.Route, error) {
	s, err := c.current()
	if err != nil {
		return keyvaluestore.Route{Partition: -1}, err
	}

	return s.mapper.MapKey(key, lastTriedRevision)
}

func (c *dynamicCluster) RouteReplica(key string, replicaIndex int, lastTriedRevision uint64) (keyvaluestore.Route, error) {
	s, err := c.current()
	if err != nil {
		return keyvaluestore.Route{Partition: -1}, err
	}

	return s.mapper.MapReplica(key, replicaIndex, lastTriedRevision)
}

func (c *dynamicCluster) Pool(node *keyvaluestore.Node) (keyvaluestore.Pool, error) {
	if node == nil {
		return nil, errors.Wrap(keyvaluestore.ErrPoolUnavailable, "nil node")
	}

	pool, ok := c.pools.Load(node.ID)
	if !ok {
		return nil, errors.Wrapf(keyvaluestore.ErrPoolUnavailable, "node %s is not part of the cluster", node.ID)
	}

	return pool, nil
}

func (c *dynamicCluster) Revision() uint64 {
	s := c.state.Load()
	if s == nil {
		return 0
	}

	return s.topology.Revision
}

func (c *dynamicCluster) Topology() *keyvaluestore.Topology {
	s := c.state.Load()
	if s == nil {
		return nil
	}

	return s.topology
}

func (c *dynamicCluster) Close() error {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)

		c.updates.Lock()
		c.pools.Range(func(id string, pool keyvaluestore.Pool) bool {
			c.pools.Delete(id)
			c.closePool(id, pool)
			return true
		})
		c.updates.Unlock()
	})

	c.closing.Wait()
	return nil
}
