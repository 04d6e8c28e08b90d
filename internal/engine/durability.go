package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

func (e *executor) SendWithDurability(ctx context.Context, op *keyvaluestore.Operation,
	replicateTo, persistTo int) (*keyvaluestore.Result, error) {

	if replicateTo < 0 || persistTo < 0 {
		return nil, errors.Wrapf(keyvaluestore.ErrInvalidArgument,
			"negative durability requirement (replicateTo=%d, persistTo=%d)", replicateTo, persistTo)
	}

	op.Durability = keyvaluestore.Durability{ReplicateTo: replicateTo, PersistTo: persistTo}

	result, err := e.SendWithRetry(ctx, op)
	if err != nil || op.Durability.IsZero() {
		return result, err
	}

	e.operating.Add(1)
	defer e.operating.Done()

	route, err := e.cluster.Route(op.Key, op.LastTriedRevision)
	if err != nil {
		kind, reason := keyvaluestore.Classify(err)
		return result, e.fail(kind, reason, op, attempt{route: route, err: err})
	}

	configured := route.ConfiguredReplicas()
	if replicateTo > configured || persistTo > configured+1 {
		return result, e.fail(keyvaluestore.ErrorKindCallerError, keyvaluestore.RetryReasonNone, op, attempt{
			route: route,
			err: errors.Wrapf(keyvaluestore.ErrDurabilityImpossible,
				"replicateTo=%d persistTo=%d with %d replica(s) configured", replicateTo, persistTo, configured),
		})
	}

	return result, e.awaitDurability(ctx, op, route, result.Token)
}

// awaitDurability polls the owners of the partition until enough of them
// report token as replicated and persisted.
func (e *executor) awaitDurability(callerCtx context.Context, op *keyvaluestore.Operation,
	route keyvaluestore.Route, token keyvaluestore.MutationToken) error {

	ctx, cancel := context.WithTimeout(callerCtx, e.durabilityTimeout)
	defer cancel()

	for {
		err := e.observe(ctx, route, token, op.Durability)
		if err == nil {
			return nil
		}

		if kind, _ := keyvaluestore.Classify(err); kind != keyvaluestore.ErrorKindDurabilityPending {
			return e.fail(kind, keyvaluestore.RetryReasonNone, op, attempt{route: route, err: err})
		}

		timer := time.NewTimer(e.observeInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			cause := keyvaluestore.ErrDurabilityAmbiguous
			if errors.Is(callerCtx.Err(), context.Canceled) {
				cause = keyvaluestore.ErrCanceled
			} else {
				metrics.GetOrCreateCounter(`kvdispatch_executor_durability_timeouts_total`).Inc()
			}

			return e.fail(keyvaluestore.ErrorKindTimeout, keyvaluestore.RetryReasonNone, op, attempt{
				route: route,
				err:   errors.Wrapf(cause, "waiting for %s", err),
			})
		}

		if next, err := e.cluster.Route(op.Key, 0); err == nil {
			route = next
		}
	}
}

// observe runs one round of seqno observations against the primary and
// every replica of route in parallel.
func (e *executor) observe(ctx context.Context, route keyvaluestore.Route,
	token keyvaluestore.MutationToken, durability keyvaluestore.Durability) error {

	var (
		group      errgroup.Group
		replicated int32
		persisted  int32
	)

	ctx, cancel := context.WithTimeout(ctx, e.defaultTimeout)
	defer cancel()

	owners := append([]*keyvaluestore.Node{route.Primary}, route.Replicas...)

	for i, node := range owners {
		if node == nil {
			continue
		}

		primary := i == 0
		node := node

		group.Go(func() error {
			op := keyvaluestore.NewOperation(keyvaluestore.OpObserveSeqno, "")
			op.Partition = token.Partition
			op.Token = token

			result, err := e.dispatch(ctx, node, op)
			if err != nil {
				op.Cancel()
				if ctx.Err() == nil {
					logrus.WithError(err).WithField("node", node.ID).Debug("observe failed")
				}
				return nil
			}

			if !primary && result.Observe.CurrentSeqno >= token.Seqno {
				atomic.AddInt32(&replicated, 1)
			}
			if result.Observe.PersistedSeqno >= token.Seqno {
				atomic.AddInt32(&persisted, 1)
			}

			return nil
		})
	}

	_ = group.Wait()

	if int(replicated) >= durability.ReplicateTo && int(persisted) >= durability.PersistTo {
		return nil
	}

	return errors.Wrapf(keyvaluestore.ErrDurabilityPending,
		"replicated to %d of %d, persisted to %d of %d",
		replicated, durability.ReplicateTo, persisted, durability.PersistTo)
}
