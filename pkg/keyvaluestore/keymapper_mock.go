package keyvaluestore

import "github.com/stretchr/testify/mock"

type Mock_KeyMapper struct {
	mock.Mock
}

func (m *Mock_KeyMapper) MapKey(key string, lastTriedRevision uint64) (Route, error) {
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

func (m *Mock_KeyMapper) MapReplica(key string, replicaIndex int, lastTriedRevision uint64) (Route, error) {
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
