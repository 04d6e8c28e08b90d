package keyvaluestore

// KeyMapper resolves the owners of a key for one topology snapshot.
type KeyMapper interface {
	// MapKey returns the route of key. lastTriedRevision is the revision of
	// the route a previous attempt failed against, zero on the first attempt.
	MapKey(key string, lastTriedRevision uint64) (Route, error)
	// MapReplica returns the route of key with Primary set to the replica at
	// replicaIndex. The primary slot is never consulted.
	MapReplica(key string, replicaIndex int, lastTriedRevision uint64) (Route, error)
}
