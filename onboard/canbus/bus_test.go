package canbus

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.einride.tech/can/pkg/socketcan"
)

func TestCANBus(t *testing.T) {
	Convey("Given a bus on one end of a pipe", t, func() {
		local, remote := net.Pipe()
		bus := newCANBus(local)
		go bus.reader()
		defer bus.Close()

		Convey("sent messages arrive as frames", func() {
			rx := socketcan.NewReceiver(remote)
			go func() {
				_ = bus.SendMsg(CANMsg{ID: 0x10, Cmd: 0x0020, Data: []byte{1}})
			}()

			So(rx.Receive(), ShouldBeTrue)
			msg, err := MsgFromFrame(rx.Frame())
			So(err, ShouldBeNil)
			So(msg.ID, ShouldEqual, uint32(0x10))
			So(msg.Cmd, ShouldEqual, uint16(0x0020))
			So(msg.Data, ShouldResemble, []byte{1})
		})

		Convey("received frames are routed to the node listener", func() {
			rxchan := make(chan CANMsg, 1)
			bus.AddListener(0x10, rxchan)

			frame, err := CANMsg{ID: 0x10, Cmd: 0x0040, Data: []byte{1, 1}}.Frame()
			So(err, ShouldBeNil)

			tx := socketcan.NewTransmitter(remote)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			So(tx.TransmitFrame(ctx, frame), ShouldBeNil)

			select {
			case msg := <-rxchan:
				So(msg.Cmd, ShouldEqual, uint16(0x0040))
				So(msg.Data, ShouldResemble, []byte{1, 1})
			case <-time.After(time.Second):
				So("timed out", ShouldBeEmpty)
			}
		})
	})
}
