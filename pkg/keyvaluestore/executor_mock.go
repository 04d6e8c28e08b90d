package keyvaluestore

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type Mock_Executor struct {
	mock.Mock
}

func (m *Mock_Executor) Close() error {
	ret := m.Called()

	var r0 error
	if rf, ok := ret.Get(0).(func() error); ok {
		r0 = rf()
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (m *Mock_Executor) SendWithRetry(ctx context.Context, op *Operation) (*Result, error) {
	ret := m.Called(ctx, op)

	var r0 *Result
	if rf, ok := ret.Get(0).(func(ctx context.Context, op *Operation) *Result); ok {
		r0 = rf(ctx, op)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*Result)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(ctx context.Context, op *Operation) error); ok {
		r1 = rf(ctx, op)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

func (m *Mock_Executor) SendWithDurability(ctx context.Context, op *Operation, replicateTo, persistTo int) (*Result, error) {
	ret := m.Called(ctx, op, replicateTo, persistTo)

	var r0 *Result
	if rf, ok := ret.Get(0).(func(ctx context.Context, op *Operation, replicateTo, persistTo int) *Result); ok {
		r0 = rf(ctx, op, replicateTo, persistTo)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*Result)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(ctx context.Context, op *Operation, replicateTo, persistTo int) error); ok {
		r1 = rf(ctx, op, replicateTo, persistTo)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}
