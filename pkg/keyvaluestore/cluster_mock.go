package keyvaluestore

import "github.com/stretchr/testify/mock"

type Mock_Cluster struct {
	mock.Mock
}

func (m *Mock_Cluster) Close() error {
	ret := m.Called()

	var r0 error
	if rf, ok := ret.Get(0).(func() error); ok {
		r0 = rf()
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (m *Mock_Cluster) Route(key string, lastTriedRevision uint64) (Route, error) {
	ret := m.Called(key, lastTriedRevision)

	var r0 Route
	if rf, ok := ret.Get(0).(func(key string, lastTriedRevision uint64) Route); ok {
		r0 = rf(key, lastTriedRevision)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(Route)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(key string, lastTriedRevision uint64) error); ok {
		r1 = rf(key, lastTriedRevision)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

func (m *Mock_Cluster) RouteReplica(key string, replicaIndex int, lastTriedRevision uint64) (Route, error) {
	ret := m.Called(key, replicaIndex, lastTriedRevision)

	var r0 Route
	if rf, ok := ret.Get(0).(func(key string, replicaIndex int, lastTriedRevision uint64) Route); ok {
		r0 = rf(key, replicaIndex, lastTriedRevision)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(Route)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(key string, replicaIndex int, lastTriedRevision uint64) error); ok {
		r1 = rf(key, replicaIndex, lastTriedRevision)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

func (m *Mock_Cluster) Pool(node *Node) (Pool, error) {
	ret := m.Called(node)

	var r0 Pool
	if rf, ok := ret.Get(0).(func(node *Node) Pool); ok {
		r0 = rf(node)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(Pool)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(node *Node) error); ok {
		r1 = rf(node)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

func (m *Mock_Cluster) Revision() uint64 {
	ret := m.Called()

	var r0 uint64
	if rf, ok := ret.Get(0).(func() uint64); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(uint64)
	}

	return r0
}
