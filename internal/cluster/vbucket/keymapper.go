package vbucket

import (
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

type keyMapper struct {
	nodes   []*keyvaluestore.Node
	current *keyvaluestore.PartitionMap
	forward *keyvaluestore.PartitionMap
	mask    uint32
}

// KeyMapper is the partition key mapper of a partitioned bucket.
type KeyMapper interface {
	keyvaluestore.KeyMapper

	PartitionOf(key string) int
}

// New builds a key mapper over a validated partitioned topology.
func New(topology *keyvaluestore.Topology) (KeyMapper, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}

	if topology.Type != keyvaluestore.BucketTypePartitioned {
		return nil, errors.Wrapf(keyvaluestore.ErrInvalidTopology,
			"bucket %q is of type %v", topology.Bucket, topology.Type)
	}

	return &keyMapper{
		nodes:   topology.Nodes,
		current: topology.Current,
		forward: topology.Forward,
		mask:    uint32(topology.Current.Len() - 1),
	}, nil
}

// Hash returns the partition independent hash of key as the server computes
// it.
func Hash(key string) uint32 {
	return (crc32.ChecksumIEEE([]byte(key)) >> 16) & 0x7fff
}

func (m *keyMapper) PartitionOf(key string) int {
	return int(Hash(key) & m.mask)
}

func (m *keyMapper) MapKey(key string, lastTriedRevision uint64) (keyvaluestore.Route, error) {
	partitionMap := m.selectMap(lastTriedRevision)
	index := m.PartitionOf(key)
	partition := partitionMap.Partitions[index]

	route := keyvaluestore.Route{
		Partition: index,
		Revision:  partitionMap.Revision,
		Replicas:  m.replicas(partition),
	}

	primary, err := m.resolve(partition.Primary)
	if err != nil {
		return route, errors.Wrapf(err, "partition %d of revision %d", index, partitionMap.Revision)
	}
	route.Primary = primary

	return route, nil
}

func (m *keyMapper) MapReplica(key string, replicaIndex int, lastTriedRevision uint64) (keyvaluestore.Route, error) {
	partitionMap := m.selectMap(lastTriedRevision)
	index := m.PartitionOf(key)
	partition := partitionMap.Partitions[index]

	route := keyvaluestore.Route{
		Partition: index,
		Revision:  partitionMap.Revision,
		Replicas:  m.replicas(partition),
	}

	if replicaIndex < 0 || replicaIndex >= len(partition.Replicas) {
		return route, errors.Wrapf(keyvaluestore.ErrInvalidArgument,
			"replica %d of partition %d is not configured", replicaIndex, index)
	}

	replica, err := m.resolve(partition.Replicas[replicaIndex])
	if err != nil {
		return route, errors.Wrapf(err, "replica %d of partition %d of revision %d",
			replicaIndex, index, partitionMap.Revision)
	}
	route.Primary = replica

	return route, nil
}

// selectMap promotes the forward map only once a previous attempt failed
// against an older revision.
func (m *keyMapper) selectMap(lastTriedRevision uint64) *keyvaluestore.PartitionMap {
	if m.forward != nil && lastTriedRevision > 0 && lastTriedRevision < m.forward.Revision {
		return m.forward
	}

	return m.current
}

func (m *keyMapper) resolve(index int) (*keyvaluestore.Node, error) {
	if index == keyvaluestore.NoOwner {
		return nil, keyvaluestore.ErrNoOwner
	}

	if index < 0 || index >= len(m.nodes) || m.nodes[index] == nil || m.nodes[index].IsDead() {
		return nil, keyvaluestore.ErrWrongOwner
	}

	return m.nodes[index], nil
}

func (m *keyMapper) replicas(partition keyvaluestore.Partition) []*keyvaluestore.Node {
	replicas := make([]*keyvaluestore.Node, len(partition.Replicas))
	for i, index := range partition.Replicas {
		if node, err := m.resolve(index); err == nil {
			replicas[i] = node
		}
	}

	return replicas
}
