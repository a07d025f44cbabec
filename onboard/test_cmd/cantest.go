package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/CodedInternet/linearservo/onboard/canbus"
	"github.com/CodedInternet/linearservo/onboard/hardware"
)

// Checks a motor node answers and runs compatible firmware, then optionally pulses one
// of its motors.
func main() {
	ifname := flag.String("i", "can0", "CAN interface")
	id := flag.Uint("node", 0x10, "node ID")
	index := flag.Uint("motor", 0, "motor index on the node")
	pulse := flag.Duration("pulse", 0, "run the motor at full power for this long")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second+*pulse)
	defer cancel()

	bus, err := canbus.NewCANBus(ctx, *ifname)
	if err != nil {
		panic(err)
	}
	defer bus.Close()

	node, err := hardware.NewControlNode(ctx, bus, uint32(*id))
	if err != nil {
		panic(err)
	}
	fmt.Printf("Success! Working with node version %s\n", node.Version)

	if *pulse == 0 {
		return
	}

	motor := &hardware.CANMotor{Node: node, Index: uint8(*index)}
	if err = motor.SetPower(ctx, 1); err != nil {
		panic(err)
	}
	time.Sleep(*pulse)
	if err = motor.Stop(context.WithoutCancel(ctx)); err != nil {
		panic(err)
	}
	fmt.Printf("Pulsed motor %d for %s\n", *index, *pulse)
}
