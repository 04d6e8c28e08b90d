package keyvaluestore

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ServiceFlag is a bit set of the services a node runs.
type ServiceFlag uint32

const (
	ServiceKeyValue ServiceFlag = 1 << iota
	ServiceQuery
	ServiceViews
	ServiceSearch
	ServiceAnalytics
	ServiceManagement
)

func (s ServiceFlag) Has(service ServiceFlag) bool {
	return s&service == service
}

// Node is one server of the cluster.
type Node struct {
	ID       string
	Address  string
	Services ServiceFlag

	dead int32
}

func NewNode(address string, services ServiceFlag) *Node {
	return &Node{
		ID:       address,
		Address:  address,
		Services: services,
	}
}

func (n *Node) MarkDead() {
	atomic.StoreInt32(&n.dead, 1)
}

func (n *Node) MarkAlive() {
	atomic.StoreInt32(&n.dead, 0)
}

func (n *Node) IsDead() bool {
	return atomic.LoadInt32(&n.dead) == 1
}

func (n *Node) String() string {
	return n.ID
}

// NoOwner is the node index the server publishes for a partition without an
// owner, typically while a rebalance is moving it.
const NoOwner = -1

type Partition struct {
	Primary  int
	Replicas []int
}

// PartitionMap assigns every partition to node indexes of the enclosing
// Topology. A published map is never modified.
type PartitionMap struct {
	Revision   uint64
	Partitions []Partition
}

func (m *PartitionMap) Len() int {
	if m == nil {
		return 0
	}

	return len(m.Partitions)
}

type BucketType int

const (
	BucketTypePartitioned BucketType = 0
	BucketTypeHashRing    BucketType = 1
)

func (t BucketType) String() string {
	switch t {
	case BucketTypePartitioned:
		return "partitioned"
	case BucketTypeHashRing:
		return "hashring"
	default:
		return "unknown"
	}
}

// Topology is a snapshot pushed by the cluster controller.
type Topology struct {
	Bucket   string
	Type     BucketType
	Revision uint64
	Nodes    []*Node
	Current  *PartitionMap
	Forward  *PartitionMap
}

// Node returns the node at index or nil when index is a sentinel or out of
// range.
func (t *Topology) Node(index int) *Node {
	if index < 0 || index >= len(t.Nodes) {
		return nil
	}

	return t.Nodes[index]
}

// Supports reports whether at least one node runs service.
func (t *Topology) Supports(service ServiceFlag) bool {
	for _, node := range t.Nodes {
		if node.Services.Has(service) {
			return true
		}
	}

	return false
}

func (t *Topology) Validate() error {
	if t == nil {
		return errors.Wrap(ErrInvalidTopology, "nil topology")
	}

	if t.Type == BucketTypeHashRing {
		return nil
	}

	if t.Current == nil {
		return errors.Wrap(ErrInvalidTopology, "partitioned bucket without partition map")
	}

	for _, m := range []*PartitionMap{t.Current, t.Forward} {
		if m == nil {
			continue
		}

		if err := t.validateMap(m); err != nil {
			return err
		}
	}

	if t.Forward != nil && t.Forward.Len() != t.Current.Len() {
		return errors.Wrapf(ErrInvalidTopology, "forward map has %d partitions, current has %d",
			t.Forward.Len(), t.Current.Len())
	}

	return nil
}

func (t *Topology) validateMap(m *PartitionMap) error {
	n := m.Len()
	if n == 0 || n&(n-1) != 0 {
		return errors.Wrapf(ErrInvalidTopology, "partition count %d is not a power of two", n)
	}

	check := func(index int) error {
		if index < NoOwner || index >= len(t.Nodes) {
			return errors.Wrapf(ErrInvalidTopology, "node index %d out of range", index)
		}
		return nil
	}

	for _, partition := range m.Partitions {
		if err := check(partition.Primary); err != nil {
			return err
		}

		for _, replica := range partition.Replicas {
			if err := check(replica); err != nil {
				return err
			}
		}
	}

	return nil
}

// Route is the answer of a KeyMapper: the owners of a key according to the
// partition map of revision Revision.
type Route struct {
	Partition int
	Revision  uint64
	Primary   *Node
	Replicas  []*Node
}

// Replica returns the replica at index, or nil when there is none.
func (r Route) Replica(index int) *Node {
	if index < 0 || index >= len(r.Replicas) {
		return nil
	}

	return r.Replicas[index]
}

// ConfiguredReplicas counts the replicas currently assigned.
func (r Route) ConfiguredReplicas() int {
	count := 0
	for _, replica := range r.Replicas {
		if replica != nil {
			count++
		}
	}

	return count
}
