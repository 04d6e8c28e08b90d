package keyvaluestore

import (
	"context"
	"io"
)

type Executor interface {
	io.Closer

	SendWithRetry(ctx context.Context, op *Operation) (*Result, error)
	SendWithDurability(ctx context.Context, op *Operation, replicateTo, persistTo int) (*Result, error)
}
