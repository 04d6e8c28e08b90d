package core

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

type coreService struct {
	executor          keyvaluestore.Executor
	defaultDurability keyvaluestore.Durability
}

type Option func(s *coreService)

func New(executor keyvaluestore.Executor, options ...Option) keyvaluestore.Service {
	result := &coreService{
		executor: executor,
	}

	for _, option := range options {
		option(result)
	}

	return result
}

// WithDefaultDurability is applied to mutations whose request does not ask
// for any durability.
func WithDefaultDurability(durability keyvaluestore.Durability) Option {
	return func(s *coreService) {
		s.defaultDurability = durability
	}
}

func (s *coreService) Set(ctx context.Context, request *keyvaluestore.SetRequest) (*keyvaluestore.SetResponse, error) {
	op := keyvaluestore.NewOperation(keyvaluestore.OpSet, request.Key)
	op.Value = request.Data
	op.Expiration = request.Expiration

	durability := s.durability(request.Options)
	result, err := s.executor.SendWithDurability(ctx, op, durability.ReplicateTo, durability.PersistTo)
	if err != nil {
		if result != nil {
			logrus.WithError(err).WithField("key", request.Key).Debug("SET applied without requested durability")
		}
		return nil, s.convertErrorToGRPC(err)
	}

	return &keyvaluestore.SetResponse{
		Cas:   result.Cas,
		Token: result.Token,
	}, nil
}

func (s *coreService) Get(ctx context.Context, request *keyvaluestore.GetRequest) (*keyvaluestore.GetResponse, error) {
	op := keyvaluestore.NewOperation(keyvaluestore.OpGet, request.Key)

	result, err := s.executor.SendWithRetry(ctx, op)
	if err != nil {
		return nil, s.convertErrorToGRPC(err)
	}

	return &keyvaluestore.GetResponse{
		Data: result.Value,
		Cas:  result.Cas,
	}, nil
}

func (s *coreService) GetFromReplica(ctx context.Context,
	request *keyvaluestore.GetFromReplicaRequest) (*keyvaluestore.GetResponse, error) {

	op := keyvaluestore.NewOperation(keyvaluestore.OpGetReplica, request.Key)
	op.ReplicaIndex = request.ReplicaIndex

	result, err := s.executor.SendWithRetry(ctx, op)
	if err != nil {
		return nil, s.convertErrorToGRPC(err)
	}

	return &keyvaluestore.GetResponse{
		Data: result.Value,
		Cas:  result.Cas,
	}, nil
}

// Delete of a missing key succeeds.
func (s *coreService) Delete(ctx context.Context, request *keyvaluestore.DeleteRequest) error {
	op := keyvaluestore.NewOperation(keyvaluestore.OpDelete, request.Key)

	durability := s.durability(request.Options)
	_, err := s.executor.SendWithDurability(ctx, op, durability.ReplicateTo, durability.PersistTo)
	if errors.Is(err, keyvaluestore.ErrNotFound) {
		return nil
	}

	return s.convertErrorToGRPC(err)
}

func (s *coreService) Exists(ctx context.Context, request *keyvaluestore.ExistsRequest) (*keyvaluestore.ExistsResponse, error) {
	op := keyvaluestore.NewOperation(keyvaluestore.OpExists, request.Key)

	_, err := s.executor.SendWithRetry(ctx, op)
	if errors.Is(err, keyvaluestore.ErrNotFound) {
		return &keyvaluestore.ExistsResponse{Exists: false}, nil
	}
	if err != nil {
		return nil, s.convertErrorToGRPC(err)
	}

	return &keyvaluestore.ExistsResponse{Exists: true}, nil
}

func (s *coreService) Close() error {
	return s.executor.Close()
}

func (s *coreService) durability(options keyvaluestore.WriteOptions) keyvaluestore.Durability {
	if options.Durability.IsZero() {
		return s.defaultDurability
	}

	return options.Durability
}

func (s *coreService) convertErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, keyvaluestore.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, keyvaluestore.ErrKeyExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, keyvaluestore.ErrInvalidArgument),
		errors.Is(err, keyvaluestore.ErrDurabilityImpossible):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, keyvaluestore.ErrCanceled),
		errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, keyvaluestore.ErrAmbiguousTimeout),
		errors.Is(err, keyvaluestore.ErrUnambiguousTimeout),
		errors.Is(err, keyvaluestore.ErrDurabilityAmbiguous),
		errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	if kind, _ := keyvaluestore.Classify(err); kind == keyvaluestore.ErrorKindRetryable ||
		errors.Is(err, keyvaluestore.ErrPoolUnavailable) ||
		errors.Is(err, keyvaluestore.ErrNoNodesAvailable) ||
		errors.Is(err, keyvaluestore.ErrServiceNotSupported) ||
		errors.Is(err, keyvaluestore.ErrClosed) {

		return status.Error(codes.Unavailable, err.Error())
	}

	return status.Error(codes.Internal, err.Error())
}
