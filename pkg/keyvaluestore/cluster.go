package keyvaluestore

import (
	"io"
)

type Cluster interface {
	io.Closer

	Route(key string, lastTriedRevision uint64) (Route, error)
	RouteReplica(key string, replicaIndex int, lastTriedRevision uint64) (Route, error)
	Pool(node *Node) (Pool, error)
	Revision() uint64
}
