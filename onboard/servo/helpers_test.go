package servo

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"
)

type fakeMotor struct {
	lock   sync.Mutex
	calls  []string
	powers []float64
	stops  int
	moving bool

	failPowerOn int // SetPower call number (1 based) that fails, 0 never fails
	stopErr     error
	movingErr   error
}

func (m *fakeMotor) SetPower(ctx context.Context, power float64) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls = append(m.calls, "power")
	m.powers = append(m.powers, power)
	if m.failPowerOn != 0 && len(m.powers) == m.failPowerOn {
		return errors.New("simulated power failure")
	}
	return nil
}

func (m *fakeMotor) Stop(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls = append(m.calls, "stop")
	m.stops++
	return m.stopErr
}

func (m *fakeMotor) IsMoving(ctx context.Context) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls = append(m.calls, "moving")
	return m.moving, m.movingErr
}

func (m *fakeMotor) reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls = nil
	m.powers = nil
	m.stops = 0
}

func (m *fakeMotor) Calls() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *fakeMotor) Powers() []float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]float64(nil), m.powers...)
}

// fakeClock records every wait instead of sleeping. With a gate set, each wait also
// blocks until the gate yields or ctx is done.
type fakeClock struct {
	lock      sync.Mutex
	durations []time.Duration
	gate      chan struct{}
	waiting   chan struct{}
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.lock.Lock()
	c.durations = append(c.durations, d)
	gate, waiting := c.gate, c.waiting
	c.lock.Unlock()

	if waiting != nil {
		waiting <- struct{}{}
	}
	if gate == nil {
		return ctx.Err()
	}

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeClock) Durations() []time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]time.Duration(nil), c.durations...)
}

func (c *fakeClock) reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.durations = nil
}

func testAttributes() Attributes {
	return Attributes{
		"motor":         "actuator",
		"length_inches": 18,
		"mm_per_second": 25.4,
		"total_degrees": 180,
	}
}

func newTestServo(attrs Attributes, motor *fakeMotor, clock *fakeClock) (*LinearServo, error) {
	s := &LinearServo{
		name:   "test",
		logger: log.New(io.Discard, "", 0),
		sleep:  clock.Sleep,
	}

	if err := s.Reconfigure(attrs, Dependencies{"actuator": motor}); err != nil {
		return nil, err
	}
	return s, nil
}

func waitCalibrated(s *LinearServo) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.WaitForCalibration(ctx)
}
