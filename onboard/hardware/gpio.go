package hardware

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

const (
	PWM_FREQUENCY = 1000 // Hz
	PWM_CYCLE     = 100  // duty cycle resolution
)

// Raspberry Pi pins with hardware PWM
var supportPWM = map[int]bool{
	12: true,
	13: true,
	18: true,
	19: true,
}

var (
	gpioOnce sync.Once
	gpioErr  error
)

type gpioPin interface {
	High()
	Low()
	DutyCycle(dutyLen, cycleLen uint32)
}

// GPIOMotor drives an H-bridge from a Raspberry Pi: one PWM pin sets the speed and one
// output pin sets the direction.
type GPIOMotor struct {
	pwm gpioPin
	dir gpioPin

	lock  sync.Mutex
	state MotorState
}

func NewGPIOMotor(pwmPin, dirPin int) (*GPIOMotor, error) {
	if !supportPWM[pwmPin] {
		return nil, fmt.Errorf("pin %d is not PWM capable", pwmPin)
	}

	gpioOnce.Do(func() { gpioErr = rpio.Open() })
	if gpioErr != nil {
		return nil, fmt.Errorf("unable to open gpio: %w", gpioErr)
	}

	pwm := rpio.Pin(pwmPin)
	pwm.Mode(rpio.Pwm)
	pwm.Freq(PWM_FREQUENCY * PWM_CYCLE)

	dir := rpio.Pin(dirPin)
	dir.Output()

	m := newGPIOMotor(pwm, dir)
	m.pwm.DutyCycle(0, PWM_CYCLE)
	return m, nil
}

func newGPIOMotor(pwm, dir gpioPin) *GPIOMotor {
	return &GPIOMotor{pwm: pwm, dir: dir}
}

func (m *GPIOMotor) SetPower(ctx context.Context, power float64) error {
	power = clampPower(power)

	m.lock.Lock()
	defer m.lock.Unlock()

	if power < 0 {
		m.dir.Low()
	} else {
		m.dir.High()
	}
	m.pwm.DutyCycle(uint32(math.Round(math.Abs(power)*PWM_CYCLE)), PWM_CYCLE)

	m.state = MotorState{Power: power, Moving: power != 0}
	return nil
}

func (m *GPIOMotor) Stop(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.pwm.DutyCycle(0, PWM_CYCLE)
	m.state = MotorState{}
	return nil
}

// IsMoving reports the commanded state; the H-bridge has no feedback.
func (m *GPIOMotor) IsMoving(ctx context.Context) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state.Moving, nil
}

// CloseGPIO releases the GPIO memory mapping once every GPIOMotor is done.
func CloseGPIO() error {
	if gpioErr != nil {
		return nil
	}
	return rpio.Close()
}
