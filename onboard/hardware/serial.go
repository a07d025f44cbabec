package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const SERIAL_TIMEOUT = time.Second

var ERR_SERIAL_TIMEOUT = errors.New("serial read timed out")

// timeoutReader turns the empty read a port returns on timeout into an error, so a
// missing reply fails the command instead of blocking the line reader.
type timeoutReader struct {
	io.Reader
}

func (r timeoutReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, ERR_SERIAL_TIMEOUT
	}
	return n, err
}

// SerialMotor talks to a motor controller over a line based serial protocol:
//
//	P<power>  set power, e.g. P-1.000
//	S         stop
//	M         report movement, answered with 1 or 0
//
// Every command is answered with a single line; "ERR <reason>" reports a failure.
type SerialMotor struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	lock   sync.Mutex
}

func NewSerialMotor(portName string, baudRate int) (*SerialMotor, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("unable to open serial port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(SERIAL_TIMEOUT); err != nil {
		port.Close()
		return nil, err
	}

	return newSerialMotor(port), nil
}

func newSerialMotor(port io.ReadWriteCloser) *SerialMotor {
	return &SerialMotor{
		port:   port,
		reader: bufio.NewReader(timeoutReader{port}),
	}
}

func (m *SerialMotor) command(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if _, err := m.port.Write([]byte(cmd + "\n")); err != nil {
		return "", err
	}

	reply, err := m.reader.ReadString('\n')
	if err != nil {
		m.discardInput()
		return "", fmt.Errorf("no reply to %q: %w", cmd, err)
	}

	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "ERR") {
		return "", fmt.Errorf("controller rejected %q: %s", cmd, strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
	}
	return reply, nil
}

// discardInput drops buffered bytes after a failed read, so a reply arriving late is
// never taken as the answer to the next command. Requires lock.
func (m *SerialMotor) discardInput() {
	m.reader.Reset(timeoutReader{m.port})
	if port, ok := m.port.(interface{ ResetInputBuffer() error }); ok {
		_ = port.ResetInputBuffer()
	}
}

func (m *SerialMotor) SetPower(ctx context.Context, power float64) error {
	_, err := m.command(ctx, fmt.Sprintf("P%.3f", clampPower(power)))
	return err
}

func (m *SerialMotor) Stop(ctx context.Context) error {
	_, err := m.command(ctx, "S")
	return err
}

func (m *SerialMotor) IsMoving(ctx context.Context) (bool, error) {
	reply, err := m.command(ctx, "M")
	if err != nil {
		return false, err
	}

	switch reply {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected movement reply %q", reply)
	}
}

func (m *SerialMotor) Close() error {
	return m.port.Close()
}
