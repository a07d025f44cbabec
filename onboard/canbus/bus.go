package canbus

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"go.einride.tech/can/pkg/socketcan"
)

const TX_TIMEOUT = 50 * time.Millisecond

type CANBusInterface interface {
	AddListener(nodeId uint32, rxchan chan CANMsg)
	SendMsg(msg CANMsg) error
}

// CANBus routes frames received on a SocketCAN interface to per-node listeners.
type CANBus struct {
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver

	lock      sync.RWMutex
	listeners map[uint32]chan CANMsg
}

func NewCANBus(ctx context.Context, ifname string) (bus *CANBus, err error) {
	conn, err := socketcan.DialContext(ctx, "can", ifname)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", ifname, err)
	}

	bus = newCANBus(conn)
	go bus.reader()

	return bus, nil
}

func newCANBus(conn net.Conn) *CANBus {
	return &CANBus{
		conn:      conn,
		tx:        socketcan.NewTransmitter(conn),
		rx:        socketcan.NewReceiver(conn),
		listeners: make(map[uint32]chan CANMsg),
	}
}

func (c *CANBus) AddListener(nodeId uint32, rxchan chan CANMsg) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.listeners[nodeId] = rxchan
}

func (c *CANBus) SendMsg(msg CANMsg) error {
	frame, err := msg.Frame()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), TX_TIMEOUT)
	defer cancel()
	return c.tx.TransmitFrame(ctx, frame)
}

func (c *CANBus) Close() error {
	return c.conn.Close()
}

func (c *CANBus) reader() {
	for c.rx.Receive() {
		msg, err := MsgFromFrame(c.rx.Frame())
		if err != nil {
			continue
		}

		c.lock.RLock()
		rxchan, ok := c.listeners[msg.ID]
		c.lock.RUnlock()

		if ok && rxchan != nil {
			rxchan <- msg
		}
	}

	if err := c.rx.Err(); err != nil {
		log.Printf("[canbus] reader stopped: %v", err)
	}
}
