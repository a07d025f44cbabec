package hardware

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
)

// POWER_SCALE maps a power of 1.0 onto the int16 the node expects.
const POWER_SCALE = 1000

// CANMotor is one motor output of a ControlNode.
type CANMotor struct {
	Node  *ControlNode // the parent node that controls this motor
	Index uint8        // the index of the motor in the node. Range: 1-15

	lock  sync.Mutex
	State MotorState // last state the node acknowledged
}

func (m *CANMotor) SetPower(ctx context.Context, power float64) error {
	power = clampPower(power)

	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(int16(math.Round(power*POWER_SCALE))))

	// blocks until success or err
	_, err := NewMotorCommand(m.Node, CMD_SET_POWER, m.Index, payload...).Process(ctx)
	if err != nil {
		return err
	}

	m.setState(MotorState{Power: power, Moving: power != 0})
	return nil
}

func (m *CANMotor) Stop(ctx context.Context) error {
	_, err := NewMotorCommand(m.Node, CMD_STOP, m.Index).Process(ctx)
	if err != nil {
		return err
	}

	m.setState(MotorState{})
	return nil
}

// IsMoving asks the node; the answer is the second byte of its reply.
func (m *CANMotor) IsMoving(ctx context.Context) (bool, error) {
	resp, err := NewMotorCommand(m.Node, CMD_GET_STATE, m.Index).Process(ctx)
	if err != nil {
		return false, err
	}
	if len(resp.Data) < 2 {
		return false, ERR_SHORT_REPLY
	}

	return resp.Data[1] != 0, nil
}

func (m *CANMotor) setState(state MotorState) {
	m.lock.Lock()
	m.State = state
	m.lock.Unlock()
}
