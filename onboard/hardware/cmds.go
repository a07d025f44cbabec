package hardware

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CodedInternet/linearservo/onboard/canbus"
)

const (
	CMD_ALLSTOP   = 0x0000
	CMD_STOP      = 0x0010
	CMD_SET_POWER = 0x0020
	CMD_GET_STATE = 0x0040
	CMD_VERSION   = 0x03E0

	CMD_MAX_RETRIES = 5
	CMD_TIMEOUT     = 5 * time.Millisecond
)

var (
	ERR_MAX_RETRIES = errors.New("CMD_MAX_RETRIES reached while attempting to send")
	ERR_SEND_ABORT  = errors.New("send has been aborted")
	ERR_SHORT_REPLY = errors.New("node reply is too short")
)

type NodeCommand interface {
	ID() uint16
	Process(ctx context.Context) (resp canbus.CANMsg, err error)
	Ack(msg canbus.CANMsg)
	Msg() canbus.CANMsg
	Abort() error
}

type BaseCommand struct {
	node  *ControlNode
	msg   canbus.CANMsg
	ack   chan canbus.CANMsg
	abort chan struct{}
	once  sync.Once
}

// indexed reports whether replies to cmd carry the motor index in their first data byte.
func indexed(cmd uint16) bool {
	switch cmd {
	case CMD_STOP, CMD_SET_POWER, CMD_GET_STATE:
		return true
	}
	return false
}

// ackID is the key a command and its reply are matched on: the command code, plus the
// motor index for per-motor commands.
func ackID(msg canbus.CANMsg) uint16 {
	if indexed(msg.Cmd) && len(msg.Data) > 0 {
		return msg.Cmd | uint16(msg.Data[0])
	}
	return msg.Cmd
}

// Sends the current command and waits for a response/acknowledgment from the node.
// Will retry commands that are not acknowledged within CMD_TIMEOUT up to CMD_MAX_RETRIES.
// Can be canceled by closing the abort channel or through ctx.
// Returns the response to the message for upstream processing should it be necessary
// Returns an error if the maximum retries are reached without an acknowledgement.
func (c *BaseCommand) Process(ctx context.Context) (resp canbus.CANMsg, err error) {
	if c.ack == nil {
		c.ack = make(chan canbus.CANMsg, 1)
	}

	if c.abort == nil {
		c.abort = make(chan struct{})
	}

	// register the callback with the node
	c.node.register(c)
	defer c.node.unregister(c)

	// attempt initial sending
	msg := c.Msg()
	err = c.node.SendMsg(msg)
	if err != nil {
		return resp, err
	}

	for i := 1; i < CMD_MAX_RETRIES; i++ {
		select {
		case resp := <-c.ack:
			if c.verify(resp) {
				return resp, nil
			}

		case <-c.abort:
			return resp, ERR_SEND_ABORT

		case <-ctx.Done():
			return resp, ctx.Err()

		case <-time.After(CMD_TIMEOUT):
			err = c.node.SendMsg(msg)
			if err != nil {
				return resp, err
			}
		}
	}

	// we have exhausted MAX_RETRIES
	return resp, ERR_MAX_RETRIES
}

// replies echo the request data, optionally followed by extra bytes
func (c *BaseCommand) verify(msg canbus.CANMsg) bool {
	return msg.Cmd == c.msg.Cmd && bytes.HasPrefix(msg.Data, c.msg.Data)
}

func (c *BaseCommand) ID() uint16 {
	return ackID(c.msg)
}

func (c *BaseCommand) SetNode(node *ControlNode) {
	c.node = node
}

func (c *BaseCommand) Msg() canbus.CANMsg {
	return c.msg
}

func (c *BaseCommand) Abort() error {
	if c.abort == nil {
		return errors.New("send not yet attempted")
	}

	c.once.Do(func() { close(c.abort) })
	return nil
}

// Ack never blocks the node listener; a reply nobody waits for is dropped.
func (c *BaseCommand) Ack(msg canbus.CANMsg) {
	select {
	case c.ack <- msg:
	default:
	}
}

// Requests the firmware version of the node
func NewVersionCommand(node *ControlNode) *BaseCommand {
	return &BaseCommand{
		node: node,
		msg: canbus.CANMsg{
			ID:  node.id,
			Cmd: CMD_VERSION,
		},
	}
}

// Issues a command to a single motor. The motor index is always the first data byte.
func NewMotorCommand(node *ControlNode, cmd uint16, index uint8, payload ...byte) *BaseCommand {
	return &BaseCommand{
		node: node,
		msg: canbus.CANMsg{
			ID:   node.id,
			Cmd:  cmd,
			Data: append([]byte{index}, payload...),
		},
	}
}
