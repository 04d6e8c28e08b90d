package redis

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

const closePollInterval = 10 * time.Millisecond

var connectionSequence uint64

// SeqnoKey is the key holding the last sequence number assigned to a
// mutation of partition.
func SeqnoKey(partition int) string {
	return fmt.Sprintf("seqno:%d", partition)
}

type redisConnection struct {
	id     string
	client *redis.Client

	lastActivity int64
	dead         int32
	closing      int32

	requests uint64
	inFlight *xsync.MapOf[uint64, *keyvaluestore.Operation]
}

func newConnection(node *keyvaluestore.Node, client *redis.Client) *redisConnection {
	return &redisConnection{
		id:           fmt.Sprintf("%s/%d", node.ID, atomic.AddUint64(&connectionSequence, 1)),
		client:       client,
		lastActivity: time.Now().UnixNano(),
		inFlight:     xsync.NewMapOf[uint64, *keyvaluestore.Operation](),
	}
}

func (c *redisConnection) ID() string {
	return c.id
}

func (c *redisConnection) IsDead() bool {
	return atomic.LoadInt32(&c.dead) == 1
}

func (c *redisConnection) IdleTime() time.Duration {
	return time.Since(time.Unix(0, atomic.LoadInt64(&c.lastActivity)))
}

func (c *redisConnection) Send(ctx context.Context, op *keyvaluestore.Operation) error {
	if atomic.LoadInt32(&c.closing) == 1 {
		return keyvaluestore.NetworkError(keyvaluestore.ErrClosed)
	}

	id := atomic.AddUint64(&c.requests, 1)
	c.inFlight.Store(id, op)
	defer c.inFlight.Delete(id)

	c.touch()
	defer c.touch()

	result, err := c.execute(c.client.WithContext(ctx), op)
	if err != nil {
		if isNetworkError(err) {
			atomic.StoreInt32(&c.dead, 1)
			return keyvaluestore.NetworkError(err)
		}

		status, ok := statusOf(err)
		if !ok {
			return err
		}

		result = &keyvaluestore.Result{Status: status}
	}

	result.Node = c.id
	op.Complete(result, result.Status.Err())

	return nil
}

func (c *redisConnection) execute(client *redis.Client, op *keyvaluestore.Operation) (*keyvaluestore.Result, error) {
	switch op.Code {
	case keyvaluestore.OpGet, keyvaluestore.OpGetReplica:
		value, err := client.Get(op.Key).Bytes()
		if err == redis.Nil {
			return &keyvaluestore.Result{Status: keyvaluestore.StatusKeyNotFound}, nil
		}
		if err != nil {
			return nil, err
		}

		return &keyvaluestore.Result{Status: keyvaluestore.StatusSuccess, Value: value}, nil

	case keyvaluestore.OpExists:
		count, err := client.Exists(op.Key).Result()
		if err != nil {
			return nil, err
		}

		if count == 0 {
			return &keyvaluestore.Result{Status: keyvaluestore.StatusKeyNotFound}, nil
		}
		return &keyvaluestore.Result{Status: keyvaluestore.StatusSuccess}, nil

	case keyvaluestore.OpSet:
		var seqno *redis.IntCmd
		_, err := client.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(op.Key, op.Value, op.Expiration)
			seqno = pipe.Incr(SeqnoKey(op.Partition))
			return nil
		})
		if err != nil {
			return nil, err
		}

		return mutationResult(op.Partition, seqno.Val()), nil

	case keyvaluestore.OpDelete:
		var (
			deleted *redis.IntCmd
			seqno   *redis.IntCmd
		)
		_, err := client.TxPipelined(func(pipe redis.Pipeliner) error {
			deleted = pipe.Del(op.Key)
			seqno = pipe.Incr(SeqnoKey(op.Partition))
			return nil
		})
		if err != nil {
			return nil, err
		}

		result := mutationResult(op.Partition, seqno.Val())
		if deleted.Val() == 0 {
			result.Status = keyvaluestore.StatusKeyNotFound
		}
		return result, nil

	case keyvaluestore.OpObserveSeqno:
		value, err := client.Get(SeqnoKey(op.Token.Partition)).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}

		var seqno uint64
		if err == nil {
			if seqno, err = strconv.ParseUint(value, 10, 64); err != nil {
				return nil, errors.Wrapf(err, "parsing sequence number of partition %d", op.Token.Partition)
			}
		}

		return &keyvaluestore.Result{
			Status: keyvaluestore.StatusSuccess,
			Token:  op.Token,
			Observe: keyvaluestore.ObserveStatus{
				CurrentSeqno:   seqno,
				PersistedSeqno: seqno,
			},
		}, nil

	default:
		return nil, errors.Wrapf(keyvaluestore.ErrInvalidArgument, "unsupported operation %v", op.Code)
	}
}

func mutationResult(partition int, seqno int64) *keyvaluestore.Result {
	return &keyvaluestore.Result{
		Status: keyvaluestore.StatusSuccess,
		Cas:    uint64(seqno),
		Token: keyvaluestore.MutationToken{
			Partition: partition,
			Seqno:     uint64(seqno),
		},
	}
}

func (c *redisConnection) Close(timeout time.Duration) error {
	if !atomic.CompareAndSwapInt32(&c.closing, 0, 1) {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for c.inFlight.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(closePollInterval)
	}

	c.inFlight.Range(func(id uint64, op *keyvaluestore.Operation) bool {
		op.Complete(nil, keyvaluestore.NetworkError(keyvaluestore.ErrClosed))
		return true
	})

	atomic.StoreInt32(&c.dead, 1)
	return c.client.Close()
}

func (c *redisConnection) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

func isNetworkError(err error) bool {
	if err == io.EOF || errors.Cause(err) == io.ErrUnexpectedEOF {
		return true
	}

	if _, ok := err.(net.Error); ok {
		return true
	}

	return strings.HasPrefix(err.Error(), "redis: client is closed")
}

// statusOf maps server error replies to response statuses.
func statusOf(err error) (keyvaluestore.Status, bool) {
	message := err.Error()

	for _, prefix := range []string{"MOVED ", "ASK "} {
		if strings.HasPrefix(message, prefix) {
			return keyvaluestore.StatusNotMyPartition, true
		}
	}

	for _, prefix := range []string{"BUSY ", "LOADING ", "TRYAGAIN "} {
		if strings.HasPrefix(message, prefix) {
			return keyvaluestore.StatusTemporaryFailure, true
		}
	}

	return keyvaluestore.StatusSuccess, false
}
