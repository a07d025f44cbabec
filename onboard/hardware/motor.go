package hardware

import "context"

// Motor is a continuous-rotation motor with no position feedback.
// Power is in the range [-1, 1]; the sign selects the direction.
type Motor interface {
	SetPower(ctx context.Context, power float64) error
	Stop(ctx context.Context) error
	IsMoving(ctx context.Context) (bool, error)
}

type MotorState struct {
	Power  float64
	Moving bool
}

func clampPower(power float64) float64 {
	if power > 1 {
		return 1
	}
	if power < -1 {
		return -1
	}
	return power
}
