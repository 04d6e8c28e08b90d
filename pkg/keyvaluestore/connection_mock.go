package keyvaluestore

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type Mock_Connection struct {
	mock.Mock
}

func (m *Mock_Connection) ID() string {
	ret := m.Called()

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.String(0)
	}

	return r0
}

func (m *Mock_Connection) Send(ctx context.Context, op *Operation) error {
	ret := m.Called(ctx, op)

	var r0 error
	if rf, ok := ret.Get(0).(func(ctx context.Context, op *Operation) error); ok {
		r0 = rf(ctx, op)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (m *Mock_Connection) IsDead() bool {
	ret := m.Called()

	var r0 bool
	if rf, ok := ret.Get(0).(func() bool); ok {
		r0 = rf()
	} else {
		r0 = ret.Bool(0)
	}

	return r0
}

func (m *Mock_Connection) IdleTime() time.Duration {
	ret := m.Called()

	var r0 time.Duration
	if rf, ok := ret.Get(0).(func() time.Duration); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(time.Duration)
	}

	return r0
}

func (m *Mock_Connection) Close(timeout time.Duration) error {
	ret := m.Called(timeout)

	var r0 error
	if rf, ok := ret.Get(0).(func(timeout time.Duration) error); ok {
		r0 = rf(timeout)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

type Mock_Dialer struct {
	mock.Mock
}

func (m *Mock_Dialer) Dial(ctx context.Context, node *Node) (Connection, error) {
	ret := m.Called(ctx, node)

	var r0 Connection
	if rf, ok := ret.Get(0).(func(ctx context.Context, node *Node) Connection); ok {
		r0 = rf(ctx, node)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(Connection)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(ctx context.Context, node *Node) error); ok {
		r1 = rf(ctx, node)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}
