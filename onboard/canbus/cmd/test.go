package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/CodedInternet/linearservo/onboard/canbus"
)

// Sends a single frame to a node and prints whatever it answers for a second.
func main() {
	ifname := flag.String("i", "can0", "CAN interface")
	node := flag.Uint("node", 0x10, "node ID to address")
	cmd := flag.Uint("cmd", 0x03E0, "command to send")
	flag.Parse()

	fmt.Printf("Opening listener on %s\n", *ifname)
	bus, err := canbus.NewCANBus(context.Background(), *ifname)
	if err != nil {
		panic(err)
	}
	defer bus.Close()

	rxc := make(chan canbus.CANMsg)
	bus.AddListener(uint32(*node), rxc)

	go func(rxc chan canbus.CANMsg) {
		for {
			msg := <-rxc

			fmt.Printf("0x%04x \t0x%04x \t[%d] \t", msg.ID, msg.Cmd, len(msg.Data))
			for i := 0; i < len(msg.Data); i++ {
				fmt.Printf("%02x ", msg.Data[i])
			}
			fmt.Printf("\n")
		}
	}(rxc)

	err = bus.SendMsg(canbus.CANMsg{
		ID:  uint32(*node),
		Cmd: uint16(*cmd),
	})
	if err != nil {
		panic(err)
	}

	time.Sleep(1 * time.Second)
}
