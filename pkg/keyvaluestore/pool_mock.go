package keyvaluestore

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type Mock_Pool struct {
	mock.Mock
}

func (m *Mock_Pool) Close() error {
	ret := m.Called()

	var r0 error
	if rf, ok := ret.Get(0).(func() error); ok {
		r0 = rf()
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (m *Mock_Pool) Initialize(ctx context.Context) error {
	ret := m.Called(ctx)

	var r0 error
	if rf, ok := ret.Get(0).(func(ctx context.Context) error); ok {
		r0 = rf(ctx)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (m *Mock_Pool) Send(ctx context.Context, op *Operation) error {
	ret := m.Called(ctx, op)

	var r0 error
	if rf, ok := ret.Get(0).(func(ctx context.Context, op *Operation) error); ok {
		r0 = rf(ctx, op)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (m *Mock_Pool) Scale(ctx context.Context, delta int) error {
	ret := m.Called(ctx, delta)

	var r0 error
	if rf, ok := ret.Get(0).(func(ctx context.Context, delta int) error); ok {
		r0 = rf(ctx, delta)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (m *Mock_Pool) Freeze(ctx context.Context) (func(), error) {
	ret := m.Called(ctx)

	var r0 func()
	if rf, ok := ret.Get(0).(func(ctx context.Context) func()); ok {
		r0 = rf(ctx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(func())
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(ctx context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

func (m *Mock_Pool) Connections() []Connection {
	ret := m.Called()

	var r0 []Connection
	if rf, ok := ret.Get(0).(func() []Connection); ok {
		r0 = rf()
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]Connection)
		}
	}

	return r0
}

func (m *Mock_Pool) Size() int {
	ret := m.Called()

	var r0 int
	if rf, ok := ret.Get(0).(func() int); ok {
		r0 = rf()
	} else {
		r0 = ret.Int(0)
	}

	return r0
}

func (m *Mock_Pool) MinimumSize() int {
	ret := m.Called()

	var r0 int
	if rf, ok := ret.Get(0).(func() int); ok {
		r0 = rf()
	} else {
		r0 = ret.Int(0)
	}

	return r0
}

func (m *Mock_Pool) MaximumSize() int {
	ret := m.Called()

	var r0 int
	if rf, ok := ret.Get(0).(func() int); ok {
		r0 = rf()
	} else {
		r0 = ret.Int(0)
	}

	return r0
}

func (m *Mock_Pool) PendingSends() int {
	ret := m.Called()

	var r0 int
	if rf, ok := ret.Get(0).(func() int); ok {
		r0 = rf()
	} else {
		r0 = ret.Int(0)
	}

	return r0
}
