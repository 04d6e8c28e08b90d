package pool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cafebazaar/kvdispatch/internal/pool"
	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScaleControllerTestSuite struct {
	suite.Suite

	pool       *keyvaluestore.Mock_Pool
	controller *pool.ScaleController
	size       int32
	pending    int
	idle       []time.Duration
}

func TestScaleControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ScaleControllerTestSuite))
}

func (s *ScaleControllerTestSuite) SetupTest() {
	s.size = 2
	s.pending = 0
	s.idle = nil
	s.controller = pool.NewScaleController(
		pool.WithBackPressureThreshold(4),
		pool.WithIdleConnectionTimeout(time.Minute),
	)

	s.pool = &keyvaluestore.Mock_Pool{}
	s.pool.On("MinimumSize").Return(2).Maybe()
	s.pool.On("MaximumSize").Return(5).Maybe()
	s.pool.On("Size").Return(func() int { return int(atomic.LoadInt32(&s.size)) }).Maybe()
	s.pool.On("PendingSends").Return(func() int { return s.pending }).Maybe()
	s.pool.On("Connections").Return(func() []keyvaluestore.Connection {
		var result []keyvaluestore.Connection
		for _, idle := range s.idle {
			conn := &keyvaluestore.Mock_Connection{}
			conn.On("IdleTime").Return(idle).Maybe()
			result = append(result, conn)
		}
		return result
	}).Maybe()
	s.pool.On("Scale", mock.Anything, mock.Anything).Return(func(ctx context.Context, delta int) error {
		atomic.AddInt32(&s.size, int32(delta))
		return nil
	}).Maybe()
}

func (s *ScaleControllerTestSuite) TestEvaluateShouldGrowBelowMinimum() {
	s.size = 1

	s.Nil(s.controller.Evaluate(context.Background(), s.pool))
	s.pool.AssertCalled(s.T(), "Scale", mock.Anything, 1)
	s.Equal(int32(2), s.size)
}

func (s *ScaleControllerTestSuite) TestEvaluateShouldGrowByOnePerTickUnderBackPressure() {
	s.pending = 100

	for tick := 1; tick <= 3; tick++ {
		s.Nil(s.controller.Evaluate(context.Background(), s.pool))
		s.Equal(int32(2+tick), s.size)
	}

	s.Nil(s.controller.Evaluate(context.Background(), s.pool))
	s.Equal(int32(5), s.size)
	s.pool.AssertNumberOfCalls(s.T(), "Scale", 3)
}

func (s *ScaleControllerTestSuite) TestEvaluateShouldNotGrowAtThreshold() {
	s.pending = 4

	s.Nil(s.controller.Evaluate(context.Background(), s.pool))
	s.pool.AssertNotCalled(s.T(), "Scale", mock.Anything, mock.Anything)
}

func (s *ScaleControllerTestSuite) TestEvaluateShouldShrinkWhenEveryConnectionIsIdle() {
	s.size = 3
	s.idle = []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute}

	s.Nil(s.controller.Evaluate(context.Background(), s.pool))
	s.pool.AssertCalled(s.T(), "Scale", mock.Anything, -1)
	s.Equal(int32(2), s.size)
}

func (s *ScaleControllerTestSuite) TestEvaluateShouldNotShrinkWhenAnyConnectionIsBusy() {
	s.size = 3
	s.idle = []time.Duration{time.Second, 2 * time.Minute, 3 * time.Minute}

	s.Nil(s.controller.Evaluate(context.Background(), s.pool))
	s.pool.AssertNotCalled(s.T(), "Scale", mock.Anything, mock.Anything)
}

func (s *ScaleControllerTestSuite) TestEvaluateShouldNotShrinkAtMinimum() {
	s.idle = []time.Duration{time.Hour, time.Hour}

	s.Nil(s.controller.Evaluate(context.Background(), s.pool))
	s.pool.AssertNotCalled(s.T(), "Scale", mock.Anything, mock.Anything)
}

func (s *ScaleControllerTestSuite) TestStartShouldEvaluatePeriodically() {
	controller := pool.NewScaleController(pool.WithInterval(5 * time.Millisecond))
	s.size = 0

	controller.Start(s.pool)
	s.Eventually(func() bool {
		return atomic.LoadInt32(&s.size) == 2
	}, time.Second, 5*time.Millisecond)
	controller.Close()

	size := atomic.LoadInt32(&s.size)
	time.Sleep(20 * time.Millisecond)
	s.Equal(size, atomic.LoadInt32(&s.size))
}
