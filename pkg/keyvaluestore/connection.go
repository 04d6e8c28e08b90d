package keyvaluestore

import (
	"context"
	"time"
)

// Connection is one persistent channel to one node. It is owned by exactly
// one pool processor, which is the only caller of Send.
//
// Send writes op and arranges for op to be completed with the response. An
// error returned by Send is a failure of op alone; the caller completes op
// with it.
type Connection interface {
	ID() string
	Send(ctx context.Context, op *Operation) error
	IsDead() bool
	IdleTime() time.Duration
	Close(timeout time.Duration) error
}

type Dialer interface {
	Dial(ctx context.Context, node *Node) (Connection, error)
}
