package keyvaluestore

import (
	"context"
	"io"
	"time"
)

type SetRequest struct {
	Key        string
	Data       []byte
	Expiration time.Duration
	Options    WriteOptions
}

type SetResponse struct {
	Cas   uint64
	Token MutationToken
}

type GetRequest struct {
	Key string
}

type GetFromReplicaRequest struct {
	Key          string
	ReplicaIndex int
}

type GetResponse struct {
	Data []byte
	Cas  uint64
}

type DeleteRequest struct {
	Key     string
	Options WriteOptions
}

// WriteOptions of a mutation. A zero Durability falls back to the service
// default.
type WriteOptions struct {
	Durability Durability
}

type ExistsRequest struct {
	Key string
}

type ExistsResponse struct {
	Exists bool
}

type Service interface {
	io.Closer

	Set(ctx context.Context, request *SetRequest) (*SetResponse, error)
	Get(ctx context.Context, request *GetRequest) (*GetResponse, error)
	GetFromReplica(ctx context.Context, request *GetFromReplicaRequest) (*GetResponse, error)
	Delete(ctx context.Context, request *DeleteRequest) error
	Exists(ctx context.Context, request *ExistsRequest) (*ExistsResponse, error)
}
