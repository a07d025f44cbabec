package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/CodedInternet/linearservo/onboard"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	UPDATE_RATE  = 10 // per second
	MOVE_TIMEOUT = 30 * time.Second
	SEND_BUFFER  = 16
	WRITE_WAIT   = time.Second
)

var ErrUnknownCmd = errors.New("unknown command")

type ConductorInterface interface {
	ProcessCommand(ctx context.Context, cmd Cmd) error
}

// Client is a single websocket connection. Only writePump writes to the connection.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	conductor ConductorInterface
}

// Conductor fans device state out to every connected client and applies the commands
// they send.
type Conductor struct {
	Device      onboard.Device
	Logger      *log.Logger
	MoveTimeout time.Duration

	lock    sync.Mutex
	clients map[*Client]struct{}
}

func NewConductor(device onboard.Device, logger *log.Logger) *Conductor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Conductor{
		Device:      device,
		Logger:      logger,
		MoveTimeout: MOVE_TIMEOUT,
		clients:     make(map[*Client]struct{}),
	}
}

// ProcessCommand applies cmd to the named servo. A move blocks until the servo has
// finished, or MoveTimeout has passed.
func (c *Conductor) ProcessCommand(ctx context.Context, cmd Cmd) error {
	s, err := c.Device.Servo(cmd.Name)
	if err != nil {
		return err
	}

	switch cmd.Cmd {
	case "move":
		ctx, cancel := context.WithTimeout(ctx, c.MoveTimeout)
		defer cancel()
		return s.Move(ctx, int(math.Round(cmd.Value)), nil)

	case "stop":
		return s.Stop(ctx, nil)

	case "recalibrate":
		return c.Device.Recalibrate(cmd.Name)

	default:
		return errors.Wrapf(ErrUnknownCmd, "%q", cmd.Cmd)
	}
}

// State reads every servo, in name order.
func (c *Conductor) State(ctx context.Context) ([]StatePayload, error) {
	names := c.Device.ServoNames()
	state := make([]StatePayload, 0, len(names))

	for _, name := range names {
		payload, err := c.ServoState(ctx, name)
		if err != nil {
			return nil, err
		}
		state = append(state, payload)
	}

	return state, nil
}

// ServoState reads a single servo. A motor that fails to report is logged and shown as
// stationary.
func (c *Conductor) ServoState(ctx context.Context, name string) (payload StatePayload, err error) {
	s, err := c.Device.Servo(name)
	if err != nil {
		return
	}

	payload.Name = name
	if payload.Position, err = s.Position(ctx, nil); err != nil {
		return
	}

	var moveErr error
	if payload.Moving, moveErr = s.IsMoving(ctx); moveErr != nil {
		c.Logger.Printf("[conductor][warn] %s: %v", name, moveErr)
	}

	var calErr error
	payload.Calibrating, calErr = s.Calibration()
	if calErr != nil {
		payload.CalibrationError = calErr.Error()
	}

	return payload, nil
}

// UpdateClients pushes the device state to every client until ctx is done.
func (c *Conductor) UpdateClients(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / UPDATE_RATE)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		c.lock.Lock()
		n := len(c.clients)
		c.lock.Unlock()
		if n == 0 {
			continue
		}

		state, err := c.State(ctx)
		if err != nil {
			c.Logger.Printf("[conductor][error] unable to read state: %v", err)
			continue
		}
		msg, err := json.Marshal(state)
		if err != nil {
			return err
		}
		c.broadcast(msg)
	}
}

func (c *Conductor) broadcast(msg []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for client := range c.clients {
		client.queue(msg)
	}
}

// Serve runs a client until its connection is closed or ctx is done.
func (c *Conductor) Serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, SEND_BUFFER),
		conductor: c,
	}

	c.lock.Lock()
	c.clients[client] = struct{}{}
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		delete(c.clients, client)
		c.lock.Unlock()
		conn.Close()
	}()

	go client.writePump(ctx)
	if err := client.readPump(ctx); err != nil {
		c.Logger.Printf("[conductor] client %s disconnected: %v", conn.RemoteAddr(), err)
	}
}

// queue drops the message if the client has fallen behind, the next update replaces it.
func (client *Client) queue(msg []byte) {
	select {
	case client.send <- msg:
	default:
	}
}

func (client *Client) readPump(ctx context.Context) error {
	for {
		_, msg, err := client.conn.ReadMessage()
		if err != nil {
			return err
		}

		var cmd Cmd
		if err = json.Unmarshal(msg, &cmd); err != nil {
			client.reply(cmd, fmt.Errorf("invalid json: %w", err))
			continue
		}

		// moves block, so commands run alongside the reader to let a stop through
		go func(cmd Cmd) {
			if err := client.conductor.ProcessCommand(ctx, cmd); err != nil {
				client.reply(cmd, err)
			}
		}(cmd)
	}
}

func (client *Client) reply(cmd Cmd, err error) {
	msg, _ := json.Marshal(ErrorPayload{Cmd: cmd, Error: err.Error()})
	client.queue(msg)
}

func (client *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(WRITE_WAIT))
			return

		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
