package canbus

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.einride.tech/can"
)

func TestCANMsg_Frame(t *testing.T) {
	Convey("Standard frame format encodes correctly", t, func() {
		msg := CANMsg{
			ID:   0x123,
			Cmd:  0x4567,
			Data: []byte{0x34, 0x12},
		}
		frame, err := msg.Frame()
		So(err, ShouldBeNil)

		Convey("ID gets set correctly", func() {
			So(frame.ID, ShouldEqual, uint32(0x123))
			So(frame.IsExtended, ShouldBeFalse)
		})

		Convey("Data length includes the command", func() {
			So(frame.Length, ShouldEqual, uint8(4))
		})

		Convey("Cmd is correctly set", func() {
			So(frame.Data[0:2], ShouldResemble, []byte{0x67, 0x45})
		})

		Convey("Data is copied over", func() {
			So(frame.Data[2:], ShouldResemble, []byte{0x34, 0x12, 0x00, 0x00, 0x00, 0x00})
		})
	})

	Convey("Large IDs use the extended frame format", t, func() {
		frame, err := CANMsg{ID: 0x12345}.Frame()
		So(err, ShouldBeNil)
		So(frame.IsExtended, ShouldBeTrue)
	})

	Convey("data length error is handled correctly", t, func() {
		_, err := CANMsg{ID: 0x10, Data: make([]byte, 7)}.Frame()
		So(err, ShouldEqual, ERR_DATA_TOO_LONG)

		_, err = CANMsg{ID: 0x10, Data: make([]byte, 6)}.Frame()
		So(err, ShouldBeNil)
	})
}

func TestMsgFromFrame(t *testing.T) {
	Convey("Frames decode back into messages", t, func() {
		in := CANMsg{ID: 0x42, Cmd: 0x0020, Data: []byte{1, 0xe8, 0x03}}
		frame, err := in.Frame()
		So(err, ShouldBeNil)

		out, err := MsgFromFrame(frame)
		So(err, ShouldBeNil)
		So(out, ShouldResemble, in)
	})

	Convey("Frames without a command are rejected", t, func() {
		_, err := MsgFromFrame(can.Frame{ID: 0x42, Length: 1})
		So(err, ShouldEqual, ERR_FRAME_TOO_SHORT)
	})
}
