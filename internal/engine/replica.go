package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

type replicaResult struct {
	result *keyvaluestore.Result
	err    error
}

// readFromReplicas asks every replica of the partition of op for its key
// and returns the first hit. Not found is reported only if a replica
// answered so; otherwise the last replica failure is returned.
func (e *executor) readFromReplicas(ctx context.Context, op *keyvaluestore.Operation,
	primaryErr error) (*keyvaluestore.Result, error) {

	route, err := e.cluster.Route(op.Key, op.LastTriedRevision)
	if err != nil && route.Replicas == nil {
		return nil, primaryErr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan replicaResult, len(route.Replicas))
	asked := 0

	for i, replica := range route.Replicas {
		if replica == nil {
			continue
		}

		asked++
		e.operating.Add(1)

		go func(index int) {
			defer e.operating.Done()

			replicaOp := keyvaluestore.NewOperation(keyvaluestore.OpGetReplica, op.Key)
			replicaOp.ReplicaIndex = index
			replicaOp.Deadline = op.Deadline
			replicaOp.LastTriedRevision = op.LastTriedRevision

			result, err := e.sendWithRetry(ctx, replicaOp)
			results <- replicaResult{result: result, err: err}
		}(i)
	}

	if asked == 0 {
		return nil, primaryErr
	}

	var (
		missed  bool
		lastErr error
	)

	for i := 0; i < asked; i++ {
		reply := <-results
		if reply.err == nil {
			return reply.result, nil
		}

		if errors.Is(reply.err, keyvaluestore.ErrNotFound) {
			missed = true
		} else {
			lastErr = reply.err
		}
	}

	if !missed {
		return nil, lastErr
	}

	return nil, &keyvaluestore.OperationError{
		Kind:     keyvaluestore.ErrorKindCallerError,
		Code:     op.Code,
		Key:      op.Key,
		Attempts: op.Retries + 1 + asked,
		Err:      errors.Wrapf(keyvaluestore.ErrNotFound, "missed on the primary and %d replica(s)", asked),
	}
}
