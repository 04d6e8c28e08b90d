package keyvaluestore

import (
	"context"
	"io"
)

// Pool multiplexes operations for one node over a bounded set of
// connections.
type Pool interface {
	io.Closer

	Initialize(ctx context.Context) error
	Send(ctx context.Context, op *Operation) error
	Scale(ctx context.Context, delta int) error
	// Freeze acquires the exclusive membership lock of the pool. No
	// connection is added or removed until release is called.
	Freeze(ctx context.Context) (release func(), err error)

	Connections() []Connection
	Size() int
	MinimumSize() int
	MaximumSize() int
	PendingSends() int
}
