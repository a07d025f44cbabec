package canbus

import (
	"encoding/binary"
	"errors"

	"go.einride.tech/can"
)

const (
	MaxDataLength = 6     // two of the eight frame bytes carry the command
	MaxStdID      = 0x7FF // larger IDs are sent as extended frames
)

// errors
var (
	ERR_DATA_TOO_LONG   = errors.New("data length exceeds 6 bytes")
	ERR_FRAME_TOO_SHORT = errors.New("frame is too short to carry a command")
)

type CANMsg struct {
	ID   uint32 // node ID this is being issued for
	Cmd  uint16 // command being issued in this message
	Data []byte // raw data up to six bytes. DLC is taken from len(Data) + 2.
}

// Frame encodes the message with the command in the first two data bytes (little endian).
func (msg CANMsg) Frame() (frame can.Frame, err error) {
	if len(msg.Data) > MaxDataLength {
		return frame, ERR_DATA_TOO_LONG
	}

	frame.ID = msg.ID
	frame.IsExtended = msg.ID > MaxStdID
	frame.Length = uint8(2 + len(msg.Data))
	binary.LittleEndian.PutUint16(frame.Data[0:2], msg.Cmd)
	copy(frame.Data[2:], msg.Data)

	return frame, frame.Validate()
}

func MsgFromFrame(frame can.Frame) (msg CANMsg, err error) {
	if frame.Length < 2 {
		return msg, ERR_FRAME_TOO_SHORT
	}

	msg.ID = frame.ID
	msg.Cmd = binary.LittleEndian.Uint16(frame.Data[0:2])
	msg.Data = make([]byte, frame.Length-2)
	copy(msg.Data, frame.Data[2:frame.Length])

	return msg, nil
}
