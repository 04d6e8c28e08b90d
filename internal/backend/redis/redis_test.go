package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	redisBackend "github.com/cafebazaar/kvdispatch/internal/backend/redis"
	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/suite"
)

const (
	KEY       = "key"
	VALUE     = "hello"
	PARTITION = 12
)

type RedisConnectionTestSuite struct {
	suite.Suite

	db       *miniredis.Miniredis
	dbClosed bool
	node     *keyvaluestore.Node
	conn     keyvaluestore.Connection
}

func TestRedisConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(RedisConnectionTestSuite))
}

func (s *RedisConnectionTestSuite) TestSetShouldEmployKeyValueOnDatabase() {
	result, err := s.send(s.makeSet(VALUE, 0))
	s.Nil(err)
	s.Equal(keyvaluestore.StatusSuccess, result.Status)
	s.db.CheckGet(s.T(), KEY, VALUE)
}

func (s *RedisConnectionTestSuite) TestSetShouldNotEmployTTLIfNotProvided() {
	_, err := s.send(s.makeSet(VALUE, 0))
	s.Nil(err)
	s.Zero(s.db.TTL(KEY))
}

func (s *RedisConnectionTestSuite) TestSetShouldEmployTTLIfProvided() {
	_, err := s.send(s.makeSet(VALUE, time.Hour))
	s.Nil(err)

	ttl := s.db.TTL(KEY)
	s.True(ttl > 59*time.Minute)
	s.True(ttl < 61*time.Minute)
}

func (s *RedisConnectionTestSuite) TestSetShouldReturnIncreasingMutationTokens() {
	first, err := s.send(s.makeSet(VALUE, 0))
	s.Nil(err)
	second, err := s.send(s.makeSet("world", 0))
	s.Nil(err)

	s.Equal(keyvaluestore.MutationToken{Partition: PARTITION, Seqno: 1}, first.Token)
	s.Equal(keyvaluestore.MutationToken{Partition: PARTITION, Seqno: 2}, second.Token)
	s.db.CheckGet(s.T(), redisBackend.SeqnoKey(PARTITION), "2")
}

func (s *RedisConnectionTestSuite) TestGetShouldReturnNotFoundIfKeyDoesNotExist() {
	result, err := s.send(s.makeOperation(keyvaluestore.OpGet))
	s.ErrorIs(err, keyvaluestore.ErrNotFound)
	s.Equal(keyvaluestore.StatusKeyNotFound, result.Status)
}

func (s *RedisConnectionTestSuite) TestGetShouldReturnValueIfKeyExists() {
	s.Nil(s.db.Set(KEY, VALUE))

	result, err := s.send(s.makeOperation(keyvaluestore.OpGet))
	s.Nil(err)
	s.Equal(VALUE, string(result.Value))
	s.Equal(s.conn.ID(), result.Node)
}

func (s *RedisConnectionTestSuite) TestGetReplicaShouldReadKey() {
	s.Nil(s.db.Set(KEY, VALUE))

	result, err := s.send(s.makeOperation(keyvaluestore.OpGetReplica))
	s.Nil(err)
	s.Equal(VALUE, string(result.Value))
}

func (s *RedisConnectionTestSuite) TestExistsShouldReportKeyPresence() {
	_, err := s.send(s.makeOperation(keyvaluestore.OpExists))
	s.ErrorIs(err, keyvaluestore.ErrNotFound)

	s.Nil(s.db.Set(KEY, VALUE))
	result, err := s.send(s.makeOperation(keyvaluestore.OpExists))
	s.Nil(err)
	s.Equal(keyvaluestore.StatusSuccess, result.Status)
}

func (s *RedisConnectionTestSuite) TestDeleteShouldDeleteExistingKey() {
	s.Nil(s.db.Set(KEY, VALUE))

	result, err := s.send(s.makeOperation(keyvaluestore.OpDelete))
	s.Nil(err)
	s.Equal(uint64(1), result.Token.Seqno)
	s.False(s.db.Exists(KEY))
}

func (s *RedisConnectionTestSuite) TestDeleteShouldReportMissingKey() {
	_, err := s.send(s.makeOperation(keyvaluestore.OpDelete))
	s.ErrorIs(err, keyvaluestore.ErrNotFound)
}

func (s *RedisConnectionTestSuite) TestObserveShouldReturnPartitionSeqno() {
	_, err := s.send(s.makeSet(VALUE, 0))
	s.Nil(err)

	op := keyvaluestore.NewOperation(keyvaluestore.OpObserveSeqno, KEY)
	op.Token = keyvaluestore.MutationToken{Partition: PARTITION, Seqno: 1}

	result, err := s.send(op)
	s.Nil(err)
	s.Equal(uint64(1), result.Observe.CurrentSeqno)
	s.Equal(uint64(1), result.Observe.PersistedSeqno)
}

func (s *RedisConnectionTestSuite) TestObserveShouldReturnZeroForUntouchedPartition() {
	op := keyvaluestore.NewOperation(keyvaluestore.OpObserveSeqno, KEY)
	op.Token = keyvaluestore.MutationToken{Partition: 99}

	result, err := s.send(op)
	s.Nil(err)
	s.Zero(result.Observe.CurrentSeqno)
}

func (s *RedisConnectionTestSuite) TestIdleTimeShouldResetOnSend() {
	time.Sleep(20 * time.Millisecond)
	s.True(s.conn.IdleTime() >= 20*time.Millisecond)

	_, err := s.send(s.makeOperation(keyvaluestore.OpGet))
	s.ErrorIs(err, keyvaluestore.ErrNotFound)
	s.True(s.conn.IdleTime() < 20*time.Millisecond)
}

func (s *RedisConnectionTestSuite) TestSendShouldMarkConnectionDeadOnNetworkFailure() {
	s.db.Close()
	s.dbClosed = true

	op := s.makeOperation(keyvaluestore.OpGet)
	err := s.conn.Send(context.Background(), op)
	s.ErrorIs(err, keyvaluestore.ErrNetwork)
	s.True(s.conn.IsDead())

	kind, reason := keyvaluestore.Classify(err)
	s.Equal(keyvaluestore.ErrorKindRetryable, kind)
	s.Equal(keyvaluestore.RetryReasonNetworkError, reason)
}

func (s *RedisConnectionTestSuite) TestSendOnClosedConnectionShouldFail() {
	s.Nil(s.conn.Close(time.Second))
	s.Nil(s.conn.Close(time.Second))

	err := s.conn.Send(context.Background(), s.makeOperation(keyvaluestore.OpGet))
	s.ErrorIs(err, keyvaluestore.ErrNetwork)
	s.ErrorIs(err, keyvaluestore.ErrClosed)
	s.True(s.conn.IsDead())
}

func (s *RedisConnectionTestSuite) TestDialShouldFailForUnreachableNode() {
	port, err := freeport.GetFreePort()
	s.Require().Nil(err)

	node := keyvaluestore.NewNode(fmt.Sprintf("127.0.0.1:%d", port), keyvaluestore.ServiceKeyValue)
	_, err = redisBackend.NewDialer(redisBackend.WithDialTimeout(time.Second)).Dial(context.Background(), node)
	s.ErrorIs(err, keyvaluestore.ErrNetwork)
}

func (s *RedisConnectionTestSuite) SetupTest() {
	var err error

	s.db, err = miniredis.Run()
	if err != nil {
		s.FailNow("failed to create miniredis db")
	}

	s.dbClosed = false
	s.node = keyvaluestore.NewNode(s.db.Addr(), keyvaluestore.ServiceKeyValue)
	s.conn, err = redisBackend.NewDialer().Dial(context.Background(), s.node)
	if err != nil {
		s.FailNow("failed to dial miniredis db", err.Error())
	}
}

func (s *RedisConnectionTestSuite) TearDownTest() {
	s.conn.Close(time.Second)
	if !s.dbClosed {
		s.db.Close()
	}
}

func (s *RedisConnectionTestSuite) makeOperation(code keyvaluestore.OpCode) *keyvaluestore.Operation {
	op := keyvaluestore.NewOperation(code, KEY)
	op.Partition = PARTITION
	return op
}

func (s *RedisConnectionTestSuite) makeSet(value string, expiration time.Duration) *keyvaluestore.Operation {
	op := s.makeOperation(keyvaluestore.OpSet)
	op.Value = []byte(value)
	op.Expiration = expiration
	return op
}

func (s *RedisConnectionTestSuite) send(op *keyvaluestore.Operation) (*keyvaluestore.Result, error) {
	if err := s.conn.Send(context.Background(), op); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return op.Wait(ctx)
}
