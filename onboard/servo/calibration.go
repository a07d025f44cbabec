package servo

import (
	"context"

	"github.com/pkg/errors"
)

type calibration struct {
	target int
	setup  setup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error // set before done is closed
}

func newCalibration(target int, su setup) *calibration {
	ctx, cancel := context.WithCancel(context.Background())
	return &calibration{
		target: target,
		setup:  su,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// calibrate drives the actuator against both end stops before moving to the target, so the
// estimate starts from a known physical position. The first failure aborts the sequence.
func (s *LinearServo) calibrate(c *calibration) {
	defer close(c.done)
	defer c.cancel()

	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	if err := c.ctx.Err(); err != nil {
		c.err = errors.Wrap(err, "calibration cancelled")
		return
	}

	cfg := c.setup.cfg
	steps := []struct {
		label string
		angle int
	}{
		{"minimum", cfg.MinDegrees},
		{"maximum", cfg.MaxDegrees},
		{"target", c.target},
	}

	s.logger.Printf("[%s] starting calibration sequence", s.name)
	for _, step := range steps {
		s.logger.Printf("[%s] moving to %s position: %d°", s.name, step.label, step.angle)
		if err := s.move(c.ctx, c.setup, step.angle); err != nil {
			c.err = errors.Wrapf(err, "calibration aborted moving to %s position %d", step.label, step.angle)
			s.logger.Printf("[%s][error] %v", s.name, c.err)
			return
		}
	}
	s.logger.Printf("[%s] calibration sequence completed", s.name)
}

// WaitForCalibration blocks until the most recently scheduled calibration finishes and
// returns its result.
func (s *LinearServo) WaitForCalibration(ctx context.Context) error {
	s.lock.RLock()
	c := s.cal
	s.lock.RUnlock()

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Calibration reports whether a calibration is still running and, once finished, its error.
func (s *LinearServo) Calibration() (running bool, err error) {
	s.lock.RLock()
	c := s.cal
	s.lock.RUnlock()

	select {
	case <-c.done:
		return false, c.err
	default:
		return true, nil
	}
}
