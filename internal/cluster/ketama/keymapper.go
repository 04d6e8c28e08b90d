package ketama

import (
	"github.com/pkg/errors"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

type keyMapper struct {
	ring     *Ring
	revision uint64
}

// NewKeyMapper serves hash ring buckets, which have neither partitions nor
// replicas.
func NewKeyMapper(topology *keyvaluestore.Topology) keyvaluestore.KeyMapper {
	return &keyMapper{
		ring:     New(topology.Nodes),
		revision: topology.Revision,
	}
}

func (m *keyMapper) MapKey(key string, lastTriedRevision uint64) (keyvaluestore.Route, error) {
	node := m.ring.LocateLive(key)
	if node == nil {
		return keyvaluestore.Route{Partition: -1, Revision: m.revision},
			errors.Wrapf(keyvaluestore.ErrNoNodesAvailable, "no live node for key %q", key)
	}

	return keyvaluestore.Route{
		Partition: -1,
		Revision:  m.revision,
		Primary:   node,
	}, nil
}

func (m *keyMapper) MapReplica(key string, replicaIndex int, lastTriedRevision uint64) (keyvaluestore.Route, error) {
	return keyvaluestore.Route{Partition: -1, Revision: m.revision},
		errors.Wrap(keyvaluestore.ErrServiceNotSupported, "hash ring buckets have no replicas")
}
