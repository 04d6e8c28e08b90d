package static

import (
	"github.com/pkg/errors"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

const (
	DefaultPartitions = 1024
	DefaultReplicas   = 1
	DefaultBucket     = "default"
)

// Controller stands in for the cluster controller of a fixed host list.
type Controller interface {
	Topology(revision uint64) (*keyvaluestore.Topology, error)
}

type staticController struct {
	hosts      []string
	bucket     string
	bucketType keyvaluestore.BucketType
	partitions int
	replicas   int
	services   keyvaluestore.ServiceFlag
}

type Option func(s *staticController)

func WithPartitions(partitions int) Option {
	return func(s *staticController) {
		s.partitions = partitions
	}
}

func WithReplicas(replicas int) Option {
	return func(s *staticController) {
		s.replicas = replicas
	}
}

func WithBucketType(bucketType keyvaluestore.BucketType) Option {
	return func(s *staticController) {
		s.bucketType = bucketType
	}
}

func WithBucket(bucket string) Option {
	return func(s *staticController) {
		s.bucket = bucket
	}
}

func WithServices(services keyvaluestore.ServiceFlag) Option {
	return func(s *staticController) {
		s.services = services
	}
}

func New(hosts []string, options ...Option) Controller {
	result := &staticController{
		hosts:      append([]string{}, hosts...),
		bucket:     DefaultBucket,
		bucketType: keyvaluestore.BucketTypePartitioned,
		partitions: DefaultPartitions,
		replicas:   DefaultReplicas,
		services:   keyvaluestore.ServiceKeyValue,
	}

	for _, option := range options {
		option(result)
	}

	return result
}

// Topology assigns partition i to host i mod n and its k-th replica to the
// k-th next host, leaving gaps once the hosts run out.
func (s *staticController) Topology(revision uint64) (*keyvaluestore.Topology, error) {
	if len(s.hosts) == 0 {
		return nil, errors.Wrap(keyvaluestore.ErrNoNodesAvailable, "static controller without hosts")
	}

	if revision == 0 {
		return nil, errors.Wrap(keyvaluestore.ErrInvalidArgument, "topology revision must be positive")
	}

	nodes := make([]*keyvaluestore.Node, len(s.hosts))
	for i, host := range s.hosts {
		nodes[i] = keyvaluestore.NewNode(host, s.services)
	}

	result := &keyvaluestore.Topology{
		Bucket:   s.bucket,
		Type:     s.bucketType,
		Revision: revision,
		Nodes:    nodes,
	}

	if s.bucketType == keyvaluestore.BucketTypePartitioned {
		result.Current = s.partitionMap(revision)
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *staticController) partitionMap(revision uint64) *keyvaluestore.PartitionMap {
	n := len(s.hosts)
	partitions := make([]keyvaluestore.Partition, s.partitions)

	for i := range partitions {
		replicas := make([]int, s.replicas)
		for k := range replicas {
			if k+1 < n {
				replicas[k] = (i + 1 + k) % n
			} else {
				replicas[k] = keyvaluestore.NoOwner
			}
		}

		partitions[i] = keyvaluestore.Partition{
			Primary:  i % n,
			Replicas: replicas,
		}
	}

	return &keyvaluestore.PartitionMap{
		Revision:   revision,
		Partitions: partitions,
	}
}
