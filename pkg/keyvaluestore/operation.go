package keyvaluestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type OpCode uint8

const (
	OpGet OpCode = iota
	OpGetReplica
	OpSet
	OpDelete
	OpExists
	OpObserveSeqno
)

func (c OpCode) String() string {
	switch c {
	case OpGet:
		return "GET"
	case OpGetReplica:
		return "GET_REPLICA"
	case OpSet:
		return "SET"
	case OpDelete:
		return "DELETE"
	case OpExists:
		return "EXISTS"
	case OpObserveSeqno:
		return "OBSERVE_SEQNO"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(c))
	}
}

// Idempotent reports whether resending the operation can not change server
// state.
func (c OpCode) Idempotent() bool {
	switch c {
	case OpGet, OpGetReplica, OpExists, OpObserveSeqno:
		return true
	default:
		return false
	}
}

// Status is the response status a Connection reports for an operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusKeyNotFound
	StatusKeyExists
	StatusNotMyPartition
	StatusTemporaryFailure
	StatusRevisionMismatch
	StatusInvalidArgument
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusKeyNotFound:
		return "key-not-found"
	case StatusKeyExists:
		return "key-exists"
	case StatusNotMyPartition:
		return "not-my-partition"
	case StatusTemporaryFailure:
		return "temporary-failure"
	case StatusRevisionMismatch:
		return "revision-mismatch"
	case StatusInvalidArgument:
		return "invalid-argument"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Err returns the sentinel error of a non successful status.
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusKeyNotFound:
		return ErrNotFound
	case StatusKeyExists:
		return ErrKeyExists
	case StatusNotMyPartition:
		return ErrWrongOwner
	case StatusTemporaryFailure:
		return ErrServerBusy
	case StatusRevisionMismatch:
		return ErrRevisionMismatch
	case StatusInvalidArgument:
		return ErrInvalidArgument
	default:
		return fmt.Errorf("unknown response status %d", int(s))
	}
}

type Durability struct {
	ReplicateTo int
	PersistTo   int
}

func (d Durability) IsZero() bool {
	return d.ReplicateTo == 0 && d.PersistTo == 0
}

// MutationToken identifies a write by the sequence number it was assigned
// within its partition.
type MutationToken struct {
	Partition int
	Seqno     uint64
}

type ObserveStatus struct {
	CurrentSeqno   uint64
	PersistedSeqno uint64
}

type Result struct {
	Status  Status
	Value   []byte
	Cas     uint64
	Token   MutationToken
	Observe ObserveStatus
	Node    string
}

// Operation is a single key-value request travelling through the executor,
// a pool and a connection. Its completion handle is completed exactly once
// per attempt; Reset prepares the next attempt.
type Operation struct {
	Code       OpCode
	Key        string
	Value      []byte
	Expiration time.Duration

	Partition         int
	ReplicaIndex      int
	LastTriedRevision uint64
	Retries           int

	Durability Durability
	Deadline   time.Time

	// Token is the mutation an OpObserveSeqno operation is asking about.
	Token MutationToken

	mu     sync.Mutex
	done   chan struct{}
	result *Result
	err    error
	// state is one of sendPending, sendWritten or sendCanceled. Writing and
	// canceling race through a single compare-and-swap.
	state int32
}

const (
	sendPending int32 = iota
	sendWritten
	sendCanceled
)

func NewOperation(code OpCode, key string) *Operation {
	return &Operation{
		Code:      code,
		Key:       key,
		Partition: -1,
		done:      make(chan struct{}),
	}
}

func (o *Operation) completion() chan struct{} {
	if o.done == nil {
		o.done = make(chan struct{})
	}

	return o.done
}

// Complete fulfills the current attempt. It returns false when the attempt
// was already completed, in which case result and err are dropped.
func (o *Operation) Complete(result *Result, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	done := o.completion()
	select {
	case <-done:
		return false
	default:
	}

	o.result = result
	o.err = err
	close(done)
	return true
}

func (o *Operation) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.completion()
}

// Wait blocks until the current attempt completes or ctx is done.
func (o *Operation) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-o.Done():
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset prepares a fresh completion handle. It must only be called once the
// previous attempt has completed. A canceled operation stays canceled.
func (o *Operation) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.done = make(chan struct{})
	o.result = nil
	o.err = nil
	atomic.CompareAndSwapInt32(&o.state, sendWritten, sendPending)
}

// TryCancel prevents the current attempt from being written. It reports
// false when a connection already claimed the operation for writing.
func (o *Operation) TryCancel() bool {
	if atomic.CompareAndSwapInt32(&o.state, sendPending, sendCanceled) {
		return true
	}

	return atomic.LoadInt32(&o.state) == sendCanceled
}

func (o *Operation) Cancel() {
	o.TryCancel()
}

func (o *Operation) IsCanceled() bool {
	return atomic.LoadInt32(&o.state) == sendCanceled
}

// TryMarkSent claims the current attempt for writing. It fails once the
// operation is canceled; the caller must then not write it.
func (o *Operation) TryMarkSent() bool {
	if atomic.CompareAndSwapInt32(&o.state, sendPending, sendWritten) {
		return true
	}

	return atomic.LoadInt32(&o.state) == sendWritten
}

func (o *Operation) IsSent() bool {
	return atomic.LoadInt32(&o.state) == sendWritten
}

func (o *Operation) Idempotent() bool {
	return o.Code.Idempotent()
}
