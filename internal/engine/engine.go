package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

type executor struct {
	cluster keyvaluestore.Cluster

	maxRetries        map[keyvaluestore.OpCode]int
	defaultMaxRetries int
	defaultTimeout    time.Duration
	backoffInitial    time.Duration
	backoffMax        time.Duration
	durabilityTimeout time.Duration
	observeInterval   time.Duration
	replicaFallback   bool

	operating sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func New(cluster keyvaluestore.Cluster, options ...Option) keyvaluestore.Executor {
	result := &executor{
		cluster:           cluster,
		maxRetries:        make(map[keyvaluestore.OpCode]int),
		defaultMaxRetries: DefaultMaxRetries,
		defaultTimeout:    DefaultTimeout,
		backoffInitial:    DefaultBackoffInitial,
		backoffMax:        DefaultBackoffMax,
		durabilityTimeout: DefaultDurabilityTimeout,
		observeInterval:   DefaultObserveInterval,
		closed:            make(chan struct{}),
	}

	for _, option := range options {
		option(result)
	}

	return result
}

// attempt is the outcome of one resolve, dispatch and await cycle.
type attempt struct {
	route    keyvaluestore.Route
	revision uint64
	result   *keyvaluestore.Result
	err      error
}

func (a attempt) node() string {
	if a.route.Primary == nil {
		return ""
	}

	return a.route.Primary.ID
}

func (e *executor) SendWithRetry(ctx context.Context, op *keyvaluestore.Operation) (*keyvaluestore.Result, error) {
	e.operating.Add(1)
	defer e.operating.Done()

	if e.isClosed() {
		return nil, keyvaluestore.ErrClosed
	}

	result, err := e.sendWithRetry(ctx, op)
	if err == nil || !e.replicaFallback || op.Code != keyvaluestore.OpGet || !errors.Is(err, keyvaluestore.ErrNotFound) {
		return result, err
	}

	return e.readFromReplicas(ctx, op, err)
}

func (e *executor) sendWithRetry(callerCtx context.Context, op *keyvaluestore.Operation) (*keyvaluestore.Result, error) {
	if op.Deadline.IsZero() {
		op.Deadline = time.Now().Add(e.defaultTimeout)
	}

	ctx, cancel := context.WithDeadline(callerCtx, op.Deadline)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.backoffInitial
	policy.MaxInterval = e.backoffMax
	policy.MaxElapsedTime = 0
	policy.Reset()

	var (
		everSent bool
		lastErr  error
	)

	for {
		current := e.attempt(ctx, op)
		everSent = everSent || op.IsSent()

		if current.err == nil {
			return current.result, nil
		}

		kind, reason := keyvaluestore.Classify(current.err)

		switch kind {
		case keyvaluestore.ErrorKindTimeout:
			everSent = everSent || !op.TryCancel()
			return nil, e.timeout(callerCtx, op, current, everSent, lastErr)

		case keyvaluestore.ErrorKindRetryable:

		case keyvaluestore.ErrorKindFatal:
			if reason != keyvaluestore.RetryReasonNodeUnavailable || e.cluster.Revision() <= current.revision {
				return nil, e.fail(kind, reason, op, current)
			}

		default:
			return nil, e.fail(kind, reason, op, current)
		}

		lastErr = current.err

		if op.Retries >= e.maxRetriesOf(op.Code) {
			return nil, e.fail(kind, reason, op, current)
		}

		op.Retries++
		op.LastTriedRevision = current.route.Revision
		metrics.GetOrCreateCounter(fmt.Sprintf(`kvdispatch_executor_retries_total{reason=%q}`, reason)).Inc()

		logrus.WithError(current.err).WithFields(logrus.Fields{
			"op":       op.Code,
			"key":      op.Key,
			"retries":  op.Retries,
			"revision": op.LastTriedRevision,
		}).Debug("retrying operation")

		timer := time.NewTimer(policy.NextBackOff())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			everSent = everSent || !op.TryCancel()
			return nil, e.timeout(callerCtx, op, current, everSent, lastErr)
		}

		op.Reset()
	}
}

func (e *executor) attempt(ctx context.Context, op *keyvaluestore.Operation) attempt {
	result := attempt{revision: e.cluster.Revision()}

	if err := ctx.Err(); err != nil {
		result.err = err
		return result
	}

	if op.Code == keyvaluestore.OpGetReplica {
		result.route, result.err = e.cluster.RouteReplica(op.Key, op.ReplicaIndex, op.LastTriedRevision)
	} else {
		result.route, result.err = e.cluster.Route(op.Key, op.LastTriedRevision)
	}
	if result.err != nil {
		return result
	}

	op.Partition = result.route.Partition
	result.result, result.err = e.dispatch(ctx, result.route.Primary, op)

	return result
}

// dispatch sends op to node once and waits for its completion.
func (e *executor) dispatch(ctx context.Context, node *keyvaluestore.Node, op *keyvaluestore.Operation) (*keyvaluestore.Result, error) {
	pool, err := e.cluster.Pool(node)
	if err != nil {
		return nil, err
	}

	if err := pool.Send(ctx, op); err != nil {
		return nil, err
	}

	return op.Wait(ctx)
}

func (e *executor) timeout(callerCtx context.Context, op *keyvaluestore.Operation,
	current attempt, everSent bool, lastErr error) error {

	kind := keyvaluestore.ErrorKindTimeout
	var err error

	switch {
	case errors.Is(callerCtx.Err(), context.Canceled):
		err = keyvaluestore.ErrCanceled
	case everSent && !op.Idempotent():
		err = keyvaluestore.ErrAmbiguousTimeout
	default:
		err = keyvaluestore.ErrUnambiguousTimeout
	}

	if lastErr != nil {
		err = errors.Wrapf(err, "last failure: %v", lastErr)
	}

	metrics.GetOrCreateCounter(`kvdispatch_executor_timeouts_total`).Inc()

	current.err = err
	return e.fail(kind, keyvaluestore.RetryReasonNone, op, current)
}

func (e *executor) fail(kind keyvaluestore.ErrorKind, reason keyvaluestore.RetryReason,
	op *keyvaluestore.Operation, current attempt) error {

	return &keyvaluestore.OperationError{
		Kind:     kind,
		Reason:   reason,
		Code:     op.Code,
		Key:      op.Key,
		Node:     current.node(),
		Attempts: op.Retries + 1,
		Err:      current.err,
	}
}

func (e *executor) maxRetriesOf(code keyvaluestore.OpCode) int {
	if n, ok := e.maxRetries[code]; ok {
		return n
	}

	return e.defaultMaxRetries
}

func (e *executor) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func (e *executor) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})

	e.operating.Wait()
	return nil
}
