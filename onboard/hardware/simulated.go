package hardware

import (
	"context"
	"sync"
	"time"
)

// SimulatedMotor stands in for a real motor. It keeps track of how far it would have
// driven an actuator: Travel is the integral of power over time, in full-power seconds.
type SimulatedMotor struct {
	name string

	lock   sync.Mutex
	power  float64
	since  time.Time
	travel float64
}

func NewSimulatedMotor(name string) *SimulatedMotor {
	return &SimulatedMotor{name: name}
}

func (m *SimulatedMotor) SetPower(ctx context.Context, power float64) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.accumulate()
	m.power = clampPower(power)
	return nil
}

func (m *SimulatedMotor) Stop(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.accumulate()
	m.power = 0
	return nil
}

func (m *SimulatedMotor) IsMoving(ctx context.Context) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.power != 0, nil
}

func (m *SimulatedMotor) Travel() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.accumulate()
	return m.travel
}

func (m *SimulatedMotor) GetState() MotorState {
	m.lock.Lock()
	defer m.lock.Unlock()
	return MotorState{Power: m.power, Moving: m.power != 0}
}

// requires lock
func (m *SimulatedMotor) accumulate() {
	now := time.Now()
	if m.power != 0 {
		m.travel += m.power * now.Sub(m.since).Seconds()
	}
	m.since = now
}
