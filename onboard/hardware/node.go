package hardware

import (
	"context"
	"fmt"
	"sync"

	"github.com/CodedInternet/linearservo/onboard/canbus"
	"github.com/Masterminds/semver"
)

const (
	NODE_VERSION = "~0.1.0"
)

// ControlNode is a motor control board on the CAN bus. It drives up to 15 motors.
type ControlNode struct {
	id      uint32
	bus     canbus.CANBusInterface
	lock    *sync.Mutex
	rx      chan canbus.CANMsg
	Version string

	pendingLock sync.Mutex
	pendingCmd  map[uint16][]NodeCommand
}

func NewControlNode(ctx context.Context, bus canbus.CANBusInterface, id uint32) (n *ControlNode, err error) {
	n = newControlNode(bus, id)
	bus.AddListener(id, n.rx)
	go n.listen()

	// check version is acceptable
	resp, err := NewVersionCommand(n).Process(ctx)
	if err != nil {
		return
	}

	n.Version = string(resp.Data)
	err = checkVersion(id, n.Version)
	return
}

func newControlNode(bus canbus.CANBusInterface, id uint32) *ControlNode {
	return &ControlNode{
		id:         id,
		bus:        bus,
		lock:       new(sync.Mutex),
		pendingCmd: make(map[uint16][]NodeCommand),
		rx:         make(chan canbus.CANMsg, 8),
	}
}

func checkVersion(id uint32, versionString string) error {
	semVer, err := semver.NewVersion(versionString)
	if err != nil {
		// running a direct dev version, consider it safe
		if versionString == "DEV" {
			return nil
		}
		return fmt.Errorf("unable to use node %d: version %q is not a release", id, versionString)
	}

	// check semver
	semVerConstraint, err := semver.NewConstraint(NODE_VERSION)
	if err != nil {
		return err
	}

	if !semVerConstraint.Check(semVer) {
		return fmt.Errorf("unable to use node %d: recieved version %s - require %s", id, versionString, NODE_VERSION)
	}

	return nil
}

func (n *ControlNode) SendMsg(msg canbus.CANMsg) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.bus.SendMsg(msg)
}

// AllStop aborts every command still waiting for a reply and stops every motor attached to the node.
func (n *ControlNode) AllStop(ctx context.Context) (err error) {
	n.abortPending()

	stopCmd := &BaseCommand{
		node: n,
		msg: canbus.CANMsg{
			ID:  n.id,
			Cmd: CMD_ALLSTOP,
		},
	}

	_, err = stopCmd.Process(ctx)
	return
}

func (n *ControlNode) listen() {
	for msg := range n.rx {
		n.routeACK(msg)
	}
}

// Several commands may wait on the same ID, e.g. two callers polling one motor. Each of
// them is offered every reply for that ID.
func (n *ControlNode) register(cmd NodeCommand) {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()
	n.pendingCmd[cmd.ID()] = append(n.pendingCmd[cmd.ID()], cmd)
}

func (n *ControlNode) unregister(cmd NodeCommand) {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()

	id := cmd.ID()
	pending := n.pendingCmd[id]
	for i, c := range pending {
		if c == cmd {
			pending = append(pending[:i:i], pending[i+1:]...)
			break
		}
	}
	if len(pending) == 0 {
		delete(n.pendingCmd, id)
	} else {
		n.pendingCmd[id] = pending
	}
}

func (n *ControlNode) abortPending() {
	n.pendingLock.Lock()
	defer n.pendingLock.Unlock()
	for _, pending := range n.pendingCmd {
		for _, cmd := range pending {
			cmd.Abort()
		}
	}
}

func (n *ControlNode) routeACK(msg canbus.CANMsg) {
	n.pendingLock.Lock()
	pending := append([]NodeCommand(nil), n.pendingCmd[ackID(msg)]...)
	n.pendingLock.Unlock()

	for _, cmd := range pending {
		cmd.Ack(msg)
	}
}
