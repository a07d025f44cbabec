// Package servo positions a linear actuator driven by a continuous-rotation motor
// that has no position sensor. The position is an estimate derived purely from how long
// the motor was commanded to run.
package servo

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	deverrors "github.com/CodedInternet/linearservo/onboard/errors"
	"github.com/CodedInternet/linearservo/onboard/hardware"
	"github.com/pkg/errors"
)

// Dependencies maps motor names to the motors a servo may resolve its "motor" attribute against.
type Dependencies map[string]hardware.Motor

// Geometry describes the physical shape of a component. LinearServo reports none.
type Geometry struct {
	Label string
}

// ErrReconfigured ends a move that was still running when the servo was reconfigured.
var ErrReconfigured = errors.New("servo was reconfigured during the move")

type LinearServo struct {
	name   string
	logger *log.Logger

	lock      sync.RWMutex // guards everything below up to moveLock
	cfg       Config
	motor     hardware.Motor
	cal       *calibration
	gen       uint64
	cfgCtx    context.Context
	cfgCancel context.CancelCauseFunc
	closed    bool

	// only one physical move may be in flight, calibration included
	moveLock sync.Mutex

	posLock  sync.RWMutex
	position int

	sleep func(ctx context.Context, d time.Duration) error
}

// setup is the configuration a move runs under. Once a newer configuration has been
// installed, ctx is cancelled and the move may no longer write the estimate.
type setup struct {
	cfg   Config
	motor hardware.Motor
	gen   uint64
	ctx   context.Context
}

// NewLinearServo configures a servo and starts its calibration in the background.
func NewLinearServo(name string, attrs Attributes, deps Dependencies, logger *log.Logger) (*LinearServo, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &LinearServo{
		name:   name,
		logger: logger,
		sleep:  sleepContext,
	}

	if err := s.Reconfigure(attrs, deps); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconfigure replaces the configuration, resets the estimate to the start position and
// schedules a new calibration. It returns without waiting for the calibration. A move or
// calibration still running under the old configuration is cancelled. A rejected
// configuration leaves the servo as it was.
func (s *LinearServo) Reconfigure(attrs Attributes, deps Dependencies) error {
	cfg, err := NewConfig(attrs)
	if err != nil {
		return err
	}

	motor, ok := deps[cfg.Motor]
	if !ok || motor == nil {
		return deverrors.ConfigError{Attribute: AttrMotor, Reason: fmt.Sprintf("%q cannot be resolved", cfg.Motor)}
	}

	start := cfg.Clamp(cfg.StartPosition)
	if start != cfg.StartPosition {
		s.logger.Printf("[%s][warn] start position %d is outside [%d, %d], using %d",
			s.name, cfg.StartPosition, cfg.MinDegrees, cfg.MaxDegrees, start)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return deverrors.ErrClosed
	}

	if s.cal != nil {
		s.cal.cancel()
	}
	if s.cfgCancel != nil {
		s.cfgCancel(ErrReconfigured)
	}

	s.gen++
	s.cfg = cfg
	s.motor = motor
	s.cfgCtx, s.cfgCancel = context.WithCancelCause(context.Background())
	s.setPosition(start)

	// the calibration owns the next motion slot: moves wait for it to finish
	s.cal = newCalibration(start, s.current())
	go s.calibrate(s.cal)

	return nil
}

// requires lock
func (s *LinearServo) current() setup {
	return setup{cfg: s.cfg, motor: s.motor, gen: s.gen, ctx: s.cfgCtx}
}

// Close cancels any calibration or move in progress and leaves the motor stopped. Motion
// requests made afterwards fail with ErrClosed.
func (s *LinearServo) Close(ctx context.Context) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	s.cal.cancel()
	s.cfgCancel(deverrors.ErrClosed)
	cfg, motor := s.cfg, s.motor
	s.lock.Unlock()

	// wait for the running leg to stop its motor
	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	if err := motor.Stop(ctx); err != nil {
		return deverrors.MotorFault{Motor: cfg.Motor, Op: "stop", Err: err}
	}
	return nil
}

func (s *LinearServo) Name() string {
	return s.name
}

func (s *LinearServo) Config() Config {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.cfg
}

// Move drives the actuator to angle, clamped to the configured range. It waits for a
// scheduled calibration and for any move already in progress. The estimate only changes
// once the motor has been stopped at the end of a complete move.
func (s *LinearServo) Move(ctx context.Context, angle int, extra map[string]interface{}) error {
	su, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.moveLock.Unlock()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(su.ctx, func() { cancel(context.Cause(su.ctx)) })
	defer stop()

	return s.move(ctx, su, angle)
}

// acquire takes moveLock once the most recently scheduled calibration has finished.
func (s *LinearServo) acquire(ctx context.Context) (setup, error) {
	for {
		s.lock.RLock()
		c, closed := s.cal, s.closed
		s.lock.RUnlock()

		if closed {
			return setup{}, deverrors.ErrClosed
		}

		select {
		case <-c.done:
		case <-ctx.Done():
			return setup{}, ctx.Err()
		}

		s.moveLock.Lock()

		s.lock.RLock()
		su, ok := s.current(), s.cal == c && !s.closed
		s.lock.RUnlock()

		if ok {
			return su, nil
		}
		// reconfigured while waiting, queue behind the new calibration
		s.moveLock.Unlock()
	}
}

// move requires moveLock.
func (s *LinearServo) move(ctx context.Context, su setup, angle int) error {
	cfg, motor := su.cfg, su.motor

	target := cfg.Clamp(angle)
	delta := target - s.getPosition()
	if delta == 0 {
		return nil
	}

	motion := Estimate(cfg, delta)

	if err := motor.SetPower(ctx, motion.Direction); err != nil {
		// the driver may have applied the power before failing
		_ = motor.Stop(context.WithoutCancel(ctx))
		return deverrors.MotorFault{Motor: cfg.Motor, Op: "set power", Err: err}
	}

	waitErr := s.sleep(ctx, motion.Duration)
	if waitErr != nil {
		if cause := context.Cause(ctx); cause != nil {
			waitErr = cause
		}
	}

	// the motor is stopped even when ctx has been cancelled
	if err := motor.Stop(context.WithoutCancel(ctx)); err != nil {
		return deverrors.MotorFault{Motor: cfg.Motor, Op: "stop", Err: err}
	}
	if waitErr != nil {
		s.logger.Printf("[%s][warn] move to %d interrupted after stop, position unknown: %v", s.name, target, waitErr)
		return errors.Wrapf(waitErr, "move to %d interrupted", target)
	}

	if !s.commit(su, target) {
		return errors.Wrapf(ErrReconfigured, "move to %d", target)
	}
	return nil
}

// commit stores angle as the estimate unless the servo has been reconfigured since the
// move started.
func (s *LinearServo) commit(su setup, angle int) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.gen != su.gen || s.closed {
		return false
	}
	s.setPosition(s.cfg.Clamp(angle))
	return true
}

// Position returns the estimated angle.
func (s *LinearServo) Position(ctx context.Context, extra map[string]interface{}) (int, error) {
	return s.getPosition(), nil
}

// Stop halts the motor immediately, even in the middle of a move.
func (s *LinearServo) Stop(ctx context.Context, extra map[string]interface{}) error {
	s.lock.RLock()
	cfg, motor := s.cfg, s.motor
	s.lock.RUnlock()

	if err := motor.Stop(ctx); err != nil {
		return deverrors.MotorFault{Motor: cfg.Motor, Op: "stop", Err: err}
	}
	return nil
}

// IsMoving reports what the motor reports.
func (s *LinearServo) IsMoving(ctx context.Context) (bool, error) {
	s.lock.RLock()
	cfg, motor := s.cfg, s.motor
	s.lock.RUnlock()

	moving, err := motor.IsMoving(ctx)
	if err != nil {
		return false, deverrors.MotorFault{Motor: cfg.Motor, Op: "report movement", Err: err}
	}
	return moving, nil
}

func (s *LinearServo) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	s.logger.Printf("[%s][error] `do_command` is not implemented", s.name)
	return nil, deverrors.ErrNotImplemented
}

func (s *LinearServo) Geometries(ctx context.Context, extra map[string]interface{}) ([]Geometry, error) {
	s.logger.Printf("[%s][error] `get_geometries` is not implemented", s.name)
	return nil, deverrors.ErrNotImplemented
}

func (s *LinearServo) getPosition() int {
	s.posLock.RLock()
	defer s.posLock.RUnlock()
	return s.position
}

func (s *LinearServo) setPosition(angle int) {
	s.posLock.Lock()
	s.position = angle
	s.posLock.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
